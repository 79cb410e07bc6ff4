package redisconn

import (
	"time"

	"github.com/thiamsantos/redix/redis"
)

// fsm holds everything only the Controller's own goroutine may touch:
// the state machine position, the current socket/owner, the counter,
// the backoff sequence and the CLIENT REPLY mode. This is the "one
// goroutine owns this data" half of spec.md section 4.1's Connection
// State; the other half (the Pending Request Table) is shared with
// the Socket Owner through table's own locking.
type fsm struct {
	c     *Connection
	table *table

	st      state
	owner   *socketOwner
	socket  ownedSocket
	hasSock bool
	addr    string

	counter        uint64
	backoff        *reconnectBackoff
	backoffCurrent time.Duration // zero means "none", per spec.md section 3

	clientReply clientReplyMode

	// postponed holds pipelineRequest events received while connecting,
	// redelivered in order once the state machine leaves connecting.
	postponed []pipelineRequest

	stopping bool
	stopAcks []chan struct{}
}

func newFSM(c *Connection) *fsm {
	f := &fsm{
		c:       c,
		table:   newTable(),
		backoff: newReconnectBackoff(c.opts.BackoffInitial, c.opts.BackoffMax),
	}
	f.setState(stateConnecting)
	f.owner = startSocketOwner(c.events, c.opts, f.table)
	return f
}

// setState transitions the state machine and mirrors the new value
// onto Connection.snapshot, the atomic the public ConnectedNow /
// MayBeConnected accessors read — the same "atomic mirror of actor
// state" shape as the teacher's Connection.state field.
func (f *fsm) setState(s state) {
	f.st = s
	f.c.snapshot.Store(int32(s))
}

func (f *fsm) run() {
	for e := range f.c.events {
		f.dispatch(e)
		if f.stopping && f.doneStopping() {
			f.finish()
			return
		}
	}
}

// doneStopping reports whether a requested normal stop has fully
// drained, i.e. no owner is alive; finish then fails any postponed
// requests.
func (f *fsm) doneStopping() bool {
	return f.owner == nil
}

func (f *fsm) finish() {
	stopErr := f.c.stopReason
	if stopErr == nil {
		stopErr = redis.NewErr(redis.ErrKindContext, redis.ErrContextClosed)
	}
	f.table.drain(func(r *row) {
		if !r.timedOut {
			deliver(r.from, pipelineResult{err: stopErr})
		}
	})
	for _, ev := range f.postponed {
		deliver(ev.from, pipelineResult{err: stopErr})
	}
	f.postponed = nil
	for _, ack := range f.stopAcks {
		close(ack)
	}
	close(f.c.done)
}

func (f *fsm) dispatch(e event) {
	switch ev := e.(type) {
	case normalStop:
		f.onNormalStop(ev)
	case pipelineRequest:
		f.onPipeline(ev)
	case socketConnected:
		f.onSocketConnected(ev)
	case socketStopped:
		f.onSocketStopped(ev)
	case reconnectTick:
		f.onReconnectTick()
	case clientTimeoutTick:
		f.onClientTimeoutTick(ev)
	}
}

func (f *fsm) onNormalStop(ev normalStop) {
	f.stopping = true
	f.stopAcks = append(f.stopAcks, ev.done)
	if f.owner != nil {
		f.owner.requestNormalStop()
		f.owner = nil
	}
	if f.c.stopReason == nil {
		f.c.stopReason = redis.NewErr(redis.ErrKindContext, redis.ErrContextClosed)
	}
}

func (f *fsm) onPipeline(ev pipelineRequest) {
	switch f.st {
	case stateConnecting:
		f.postponed = append(f.postponed, ev)
	case stateConnected:
		f.handlePipelineConnected(ev)
	case stateDisconnected:
		deliver(ev.from, pipelineResult{err: redis.NewErr(redis.ErrKindConnection, redis.ErrClosed)})
	}
}

// handlePipelineConnected implements the algorithm in spec.md section
// 4.1 "handling pipeline in connected".
func (f *fsm) handlePipelineConnected(ev pipelineRequest) {
	ncommands, newMode := accountBatch(f.clientReply, ev.commands)
	f.clientReply = newMode

	if ncommands == 0 {
		deliver(ev.from, pipelineResult{replies: []interface{}{}})
		return
	}

	counter := f.counter
	f.counter++
	f.table.insert(counter, ev.from, ncommands)

	var buf []byte
	for _, cmd := range ev.commands {
		var err *redis.Error
		buf, err = redis.AppendRequest(buf, cmd)
		if err != nil {
			// Pipeline() already ran CheckArgs before submitting the
			// event, so this would indicate an encoder bug rather
			// than bad caller input; there is no sane partial-send
			// recovery, so treat it the same as a transport failure.
			f.failSend()
			return
		}
	}

	if err := f.socket.Send(buf); err != nil {
		f.failSend()
		return
	}

	if ev.timeout != InfiniteTimeout {
		cnt := counter
		time.AfterFunc(ev.timeout, func() {
			f.c.pushEvent(clientTimeoutTick{counter: cnt})
		})
	}
}

// failSend is the section 4.1 step 6 "on send failure" path: close
// the socket and drop to disconnected without yet running the
// disconnect algorithm — that runs once the Socket Owner notices the
// closed socket and reports socketStopped, per the disconnected-state
// "(rare race)" row in the section 4.1 event table.
func (f *fsm) failSend() {
	f.socket.Close()
	f.hasSock = false
	f.setState(stateDisconnected)
}

func (f *fsm) onSocketConnected(ev socketConnected) {
	if ev.owner != f.owner {
		return // stale message from a superseded owner
	}
	if f.st != stateConnecting {
		return
	}
	f.socket = ev.socket
	f.hasSock = true
	f.addr = ev.address

	if f.backoffCurrent != 0 {
		f.c.logger.Report(LogReconnected, f.addr)
	}
	f.backoffCurrent = 0
	f.backoff.reset()

	f.setState(stateConnected)
	f.notifySyncReady(nil)
	f.redeliverPostponed()
}

func (f *fsm) onSocketStopped(ev socketStopped) {
	if ev.owner != f.owner {
		return
	}
	switch f.st {
	case stateConnecting:
		f.c.logger.Report(LogConnectFailed, f.opts().Addr(), ev.reason)
		if f.opts().SyncConnect && f.backoffCurrent == 0 {
			// very first attempt of a synchronous Start: fail Start
			f.stopController(ev.reason)
			return
		}
		f.disconnect(ev.reason)
	case stateConnected:
		addr := f.addr
		f.addr = ""
		f.c.logger.Report(LogDisconnected, addr, ev.reason)
		f.disconnect(ev.reason)
	case stateDisconnected:
		// rare race: a stopped message from the owner that triggered
		// our current disconnected state, arriving after failSend
		// already flipped the state locally.
		addr := f.addr
		f.addr = ""
		f.c.logger.Report(LogDisconnected, addr, ev.reason)
		f.disconnect(ev.reason)
	}
}

// disconnect implements spec.md section 4.1 "Disconnect handling".
func (f *fsm) disconnect(reason error) {
	if rerr, ok := reason.(*redis.Error); ok && rerr.Kind == redis.ErrKindRedis {
		f.stopController(reason)
		return
	}
	if f.opts().ExitOnDisconnection {
		f.stopController(reason)
		return
	}

	delay := f.backoff.next()
	f.backoffCurrent = delay

	f.notifyOfDisconnection(reason)

	f.setState(stateDisconnected)
	f.hasSock = false
	f.owner = nil
	f.redeliverPostponed()

	time.AfterFunc(delay, func() {
		f.c.pushEvent(reconnectTick{})
	})
}

// notifyOfDisconnection fails every non-timed-out pending row with
// {error, disconnected}, then empties the table — spec.md section
// 4.1's internal "notify_of_disconnection(reason)" event.
func (f *fsm) notifyOfDisconnection(reason error) {
	f.table.drain(func(r *row) {
		if !r.timedOut {
			deliver(r.from, pipelineResult{err: redis.NewErr(redis.ErrKindConnection, redis.ErrDisconnected).Wrap(reason)})
		}
	})
}

func (f *fsm) onReconnectTick() {
	if f.st != stateDisconnected {
		return
	}
	f.owner = startSocketOwner(f.c.events, f.c.opts, f.table)
	f.setState(stateConnecting)
}

func (f *fsm) onClientTimeoutTick(ev clientTimeoutTick) {
	if f.st != stateConnected {
		return
	}
	from, ok := f.table.setTimedOut(ev.counter)
	if !ok {
		return
	}
	deliver(from, pipelineResult{err: redis.NewErr(redis.ErrKindRequest, redis.ErrTimeout)})
}

// stopController ends the Controller's life unconditionally: used for
// an AUTH-failure-class server error during handshake, or when
// ExitOnDisconnection is set.
func (f *fsm) stopController(reason error) {
	f.c.stopReason = reason
	f.stopping = true
	if f.owner != nil {
		f.owner.requestNormalStop()
		f.owner = nil
	}
	f.notifySyncReady(reason)
}

func (f *fsm) notifySyncReady(err error) {
	f.c.readyOnce.Do(func() {
		f.c.ready <- err
	})
}

func (f *fsm) redeliverPostponed() {
	pending := f.postponed
	f.postponed = nil
	for _, ev := range pending {
		f.onPipeline(ev)
	}
}

func (f *fsm) opts() *Options {
	return &f.c.opts
}
