// Package redisconn implements the core connection state machine
// described in spec.md: a Connection Controller coordinating a
// subordinate Socket Owner and a shared Pending Request Table to give
// pipelined Redis commands strict FIFO reply correspondence across
// reconnects.
package redisconn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/thiamsantos/redix/redis"
)

// Connection is a handle to a single, possibly-reconnecting, Redis
// connection. All exported methods are safe for concurrent use by
// multiple goroutines; the Controller serializes everything that
// touches its own state.
type Connection struct {
	opts   Options
	logger Logger

	events chan event
	done   chan struct{}

	readyOnce sync.Once
	ready     chan error

	stopReason error

	// snapshot mirrors the Controller's state for the lock-free
	// inspection methods below, the same pattern the teacher uses
	// for Connection.state (an atomic written only by the owning
	// goroutine, read by anyone).
	snapshot atomic.Int32
}

// ConnectedNow reports whether the connection is certainly connected
// at the moment of the call.
func (c *Connection) ConnectedNow() bool {
	return state(c.snapshot.Load()) == stateConnected
}

// MayBeConnected reports whether the connection is connected or
// connecting; it is false only once the Controller has settled into
// disconnected (awaiting its reconnect timer).
func (c *Connection) MayBeConnected() bool {
	s := state(c.snapshot.Load())
	return s == stateConnected || s == stateConnecting
}

// Start constructs the Pending Request Table, spawns the first Socket
// Owner, and enters the connecting state, per spec.md section 4.1.
// If opts.SyncConnect is set, Start blocks until the first attempt
// either connects or permanently fails.
func Start(opts Options) (*Connection, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	if err := validate(opts); err != nil {
		return nil, err
	}

	c := &Connection{
		opts:   opts,
		logger: opts.Logger,
		events: make(chan event, 256),
		done:   make(chan struct{}),
		ready:  make(chan error, 1),
	}

	fsm := newFSM(c)
	go fsm.run()

	if opts.SyncConnect {
		select {
		case err := <-c.ready:
			if err != nil {
				return nil, err
			}
			return c, nil
		case <-c.done:
			return nil, c.stopReason
		}
	}
	return c, nil
}

// Stop performs an orderly shutdown: the current Socket Owner (if
// any) is asked to stop normally and the Controller's mailbox loop
// exits. Stop blocks until shutdown completes or timeout elapses.
func (c *Connection) Stop(timeout time.Duration) error {
	ack := make(chan struct{})
	select {
	case c.events <- normalStop{done: ack}:
	case <-c.done:
		return nil
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ack:
		return nil
	case <-c.done:
		return nil
	case <-timer:
		return errors.New("redisconn: stop timed out")
	}
}

// Pipeline submits a batch of one or more commands and blocks until a
// reply, a timeout, or a disconnection resolves them. Replies are
// returned in command order. See spec.md section 4.1 and section 8
// for the full contract.
func (c *Connection) Pipeline(commands []redis.Request, timeout time.Duration) ([]interface{}, error) {
	if len(commands) == 0 {
		return []interface{}{}, nil
	}
	for _, cmd := range commands {
		if err := redis.CheckArgs(cmd); err != nil {
			return nil, err
		}
	}

	replyCh := make(chan pipelineResult, 1)
	from := caller{requestID: uuid.NewString(), replyTo: replyCh}
	req := pipelineRequest{commands: commands, timeout: timeout, from: from}

	select {
	case c.events <- req:
	case <-c.done:
		return nil, c.stopErr()
	}

	select {
	case res := <-replyCh:
		return res.replies, res.err
	case <-c.done:
		return nil, c.stopErr()
	}
}

func (c *Connection) stopErr() error {
	if c.stopReason != nil {
		return c.stopReason
	}
	return redis.NewErr(redis.ErrKindContext, redis.ErrContextClosed)
}

func (c *Connection) pushEvent(e event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}
