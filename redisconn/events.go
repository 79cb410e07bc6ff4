package redisconn

import (
	"time"

	"github.com/thiamsantos/redix/redis"
)

// state is the Connection Controller's state machine position, per
// spec.md section 4.1.
type state int

const (
	stateConnecting state = iota
	stateConnected
	stateDisconnected
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// event is the sealed set of inputs to the Controller's mailbox,
// named directly after spec.md section 9's suggested event enum.
type event interface{ isEvent() }

// pipelineRequest is a caller's submitted batch.
type pipelineRequest struct {
	commands []redis.Request
	timeout  time.Duration
	from     caller
}

func (pipelineRequest) isEvent() {}

// socketConnected is sent by the Socket Owner once handshake succeeds.
type socketConnected struct {
	owner   *socketOwner
	socket  ownedSocket
	address string
}

func (socketConnected) isEvent() {}

// socketStopped is sent by the Socket Owner when the socket closes,
// errors, or the handshake fails.
type socketStopped struct {
	owner  *socketOwner
	reason error
}

func (socketStopped) isEvent() {}

// reconnectTick fires the backoff timer armed on disconnect.
type reconnectTick struct{}

func (reconnectTick) isEvent() {}

// clientTimeoutTick fires the per-request timer armed when counter's
// command batch was sent.
type clientTimeoutTick struct {
	counter uint64
}

func (clientTimeoutTick) isEvent() {}

// normalStop is the Controller's own shutdown request, processed like
// any other mailbox event so it serializes correctly with in-flight
// pipeline/reconnect events.
type normalStop struct {
	done chan struct{}
}

func (normalStop) isEvent() {}
