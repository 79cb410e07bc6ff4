package redisconn

import (
	"container/list"
	"sync"

	"github.com/thiamsantos/redix/redis"
)

// asServerErr returns reply as a *redis.Error if it is a decoded RESP
// error reply, else nil. Used by takeOldestPartial to implement the
// "server error inside a multi-reply row" resolution documented in
// DESIGN.md.
func asServerErr(reply interface{}) *redis.Error {
	return redis.AsRedisError(reply)
}

// caller identifies the recipient of a pipeline reply: a channel to
// deliver the terminal message on plus a per-call correlation id
// (carried with the row; nothing in the core logs it).
type caller struct {
	requestID string
	replyTo   chan<- pipelineResult
}

// pipelineResult is the terminal message delivered to a caller's
// replyTo channel — exactly one per Pipeline invocation, per the
// at-most-one-reply property (spec.md section 8, property 2).
type pipelineResult struct {
	replies []interface{}
	err     error
}

// row is one Pending Request Table entry: spec.md section 3 "Pending
// Request Row (counter, from, ncommands, timed_out)".
type row struct {
	counter   uint64
	from      caller
	ncommands int
	timedOut  bool

	// gathered accumulates decoded replies as the Socket Owner reads
	// them off the wire, until len(gathered) == ncommands.
	gathered []interface{}
	// serverErr, once set, short-circuits the row: when the row is
	// finally removed the whole batch resolves to this error instead
	// of gathered (see DESIGN.md "server error inside a multi-reply
	// row").
	serverErr error
}

// table is the Pending Request Table shared between the Connection
// Controller and the Socket Owner. The Controller is the sole writer
// of new rows and the only actor that sets timedOut; the Socket Owner
// is the sole reader/remover of rows as replies are decoded. Both
// actors call into the table concurrently (Controller's mailbox loop
// and the Socket Owner's read loop), so every method holds mu.
type table struct {
	mu    sync.Mutex
	rows  map[uint64]*list.Element // counter -> element in order
	order *list.List               // of *row, ascending counter
}

func newTable() *table {
	return &table{
		rows:  make(map[uint64]*list.Element),
		order: list.New(),
	}
}

// insert adds a new row. Controller-only, per spec.md section 4.3.
func (t *table) insert(counter uint64, from caller, ncommands int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := &row{counter: counter, from: from, ncommands: ncommands}
	el := t.order.PushBack(r)
	t.rows[counter] = el
}

// setTimedOut flips timed_out true for counter, returning the row's
// caller and whether the row was still present. Controller-only
// (timer path) — on success the Controller replies {error, timeout}
// to the returned caller itself.
func (t *table) setTimedOut(counter uint64) (caller, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.rows[counter]
	if !ok {
		return caller{}, false
	}
	r := el.Value.(*row)
	r.timedOut = true
	return r.from, true
}

// takeOldestPartial accumulates reply into the oldest row's gathered
// slice. Once that row has gathered ncommands replies it is removed
// from the table and returned as done=true so the Socket Owner can
// deliver the terminal result; otherwise done is false and the row
// remains pending. Socket-Owner-only, per spec.md section 4.3
// "take_oldest_partial(reply_slot)".
func (t *table) takeOldestPartial(reply interface{}) (r *row, done bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	front := t.order.Front()
	if front == nil {
		return nil, false
	}
	el := front
	rr := el.Value.(*row)
	if rerr := asServerErr(reply); rerr != nil && rr.serverErr == nil {
		rr.serverErr = rerr
	}
	rr.gathered = append(rr.gathered, reply)
	if len(rr.gathered) < rr.ncommands {
		return rr, false
	}
	t.order.Remove(el)
	delete(t.rows, rr.counter)
	return rr, true
}

// drain removes every row from the table, invoking f for each in
// ascending counter order before removing it. Controller-only, used
// on the disconnected transition (spec.md section 4.1 "Disconnect
// handling" / section 4.3 "drain(f)").
func (t *table) drain(f func(*row)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for el := t.order.Front(); el != nil; el = el.Next() {
		f(el.Value.(*row))
	}
	t.order.Init()
	t.rows = make(map[uint64]*list.Element)
}

func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
