package redisconn

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"

	"github.com/thiamsantos/redix/redis"
)

// ownedSocket is the handle the Controller is allowed to touch once
// the Socket Owner reports socketConnected: Send for writing encoded
// commands, and Close to tear the transport down. Per spec.md
// section 5, the socket itself is owned exclusively by the Socket
// Owner; the Controller only calls these two synchronous,
// non-blocking-given-well-behaved-deadlines operations on it.
type ownedSocket struct {
	conn net.Conn
	w    *deadlineIO
}

func (s ownedSocket) Send(packet []byte) error {
	_, err := s.w.Write(packet)
	return err
}

func (s ownedSocket) Close() error {
	return s.conn.Close()
}

// socketOwner is the subordinate actor described in spec.md section
// 4.2: it dials the transport, performs the handshake, and then
// reads+decodes replies, handing each one to the shared Pending
// Request Table and delivering terminal results to callers.
type socketOwner struct {
	events chan<- event
	opts   Options
	table  *table
	logger Logger

	stop chan struct{}
}

func startSocketOwner(events chan<- event, opts Options, tbl *table) *socketOwner {
	so := &socketOwner{
		events: events,
		opts:   opts,
		table:  tbl,
		logger: opts.Logger,
		stop:   make(chan struct{}),
	}
	go so.run()
	return so
}

// requestNormalStop asks the owner to exit without reporting
// socketStopped, per spec.md section 4.2 point 6. Safe to call more
// than once or after the owner has already exited on its own.
func (so *socketOwner) requestNormalStop() {
	select {
	case <-so.stop:
	default:
		close(so.stop)
	}
}

func (so *socketOwner) run() {
	conn, addr, err := so.dial()
	if err != nil {
		select {
		case so.events <- socketStopped{owner: so, reason: err}:
		case <-so.stop:
		}
		return
	}

	socket := ownedSocket{conn: conn, w: newDeadlineIO(conn, so.opts.IOTimeout)}
	select {
	case so.events <- socketConnected{owner: so, socket: socket, address: addr}:
	case <-so.stop:
		conn.Close()
		return
	}

	so.readLoop(conn)
}

// dial opens the transport and performs the AUTH/PING/SELECT
// handshake, in that order, mirroring the teacher's dial() in
// etsangsplk-redispipe/redisconn/conn.go.
func (so *socketOwner) dial() (net.Conn, string, error) {
	timeout := so.opts.DialTimeout
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if so.opts.TLSConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", so.opts.Addr(), so.opts.TLSConfig)
	} else {
		conn, err = dialer.Dial("tcp", so.opts.Addr())
	}
	if err != nil {
		return nil, "", redis.NewErrWrap(redis.ErrKindConnection, redis.ErrDial, err)
	}

	dc := newDeadlineIO(conn, so.opts.IOTimeout)
	br := bufio.NewReaderSize(dc, 128*1024)
	rr := &replyReader{br: br}

	if so.opts.Password != "" {
		req := redis.Request{Cmd: "AUTH", Args: []interface{}{}}
		if so.opts.Username != "" {
			req.Args = append(req.Args, so.opts.Username)
		}
		req.Args = append(req.Args, so.opts.Password)
		if err := so.roundTrip(dc, rr, req, "OK"); err != nil {
			conn.Close()
			if rerr, ok := err.(*redis.Error); ok && rerr.Kind == redis.ErrKindRedis {
				conn.Close()
				return nil, "", redis.NewErrWrap(redis.ErrKindRedis, redis.ErrAuth, rerr)
			}
			return nil, "", err
		}
	}

	if err := so.roundTrip(dc, rr, redis.Request{Cmd: "PING"}, "PONG"); err != nil {
		conn.Close()
		return nil, "", redis.NewErrWrap(redis.ErrKindConnection, redis.ErrConnSetup, err)
	}

	if so.opts.DB != 0 {
		req := redis.Request{Cmd: "SELECT", Args: []interface{}{so.opts.DB}}
		if err := so.roundTrip(dc, rr, req, "OK"); err != nil {
			conn.Close()
			return nil, "", redis.NewErrWrap(redis.ErrKindConnection, redis.ErrConnSetup, err)
		}
	}

	return conn, conn.RemoteAddr().String(), nil
}

// roundTrip encodes and writes a single handshake command, then reads
// and validates its reply against want. On a server -ERR reply it
// returns a *redis.Error{Kind: ErrKindRedis} so callers can tell a
// protocol/server rejection (e.g. bad password) apart from a plain
// transport failure.
func (so *socketOwner) roundTrip(w *deadlineIO, rr *replyReader, req redis.Request, want string) error {
	buf, encErr := redis.AppendRequest(nil, req)
	if encErr != nil {
		return encErr
	}
	if _, err := w.Write(buf); err != nil {
		return redis.NewErrWrap(redis.ErrKindConnection, redis.ErrConnSetup, err)
	}
	reply, err := rr.next()
	if err != nil {
		return redis.NewErrWrap(redis.ErrKindConnection, redis.ErrConnSetup, err)
	}
	if rerr := redis.AsRedisError(reply); rerr != nil {
		return redis.NewErrWrap(redis.ErrKindRedis, redis.ErrServer, rerr)
	}
	if s, ok := reply.(string); !ok || s != want {
		return redis.NewErr(redis.ErrKindConnection, redis.ErrConnSetup).
			WithMsg("handshake response mismatch").With("want", want).With("got", reply)
	}
	return nil
}

// readLoop is the steady-state reader described in spec.md section
// 4.2 point 4: decode one reply at a time, hand it to the oldest
// table row, and deliver a terminal result once that row has
// gathered all of its expected replies.
func (so *socketOwner) readLoop(conn net.Conn) {
	conn.SetReadDeadline(time.Time{}) // clear the last handshake read deadline
	dc := newDeadlineIO(conn, 0)      // reads block indefinitely in steady state
	br := bufio.NewReaderSize(dc, 128*1024)
	rr := &replyReader{br: br}

	for {
		select {
		case <-so.stop:
			return
		default:
		}

		reply, err := rr.next()
		if err != nil {
			reason := classifyReadErr(err)
			select {
			case so.events <- socketStopped{owner: so, reason: reason}:
			case <-so.stop:
			}
			return
		}

		r, done := so.table.takeOldestPartial(reply)
		if r == nil {
			// A reply arrived with no pending row: a protocol
			// invariant violation elsewhere, not recoverable locally.
			continue
		}
		if !done {
			continue
		}
		if r.timedOut {
			continue
		}
		if r.serverErr != nil {
			deliver(r.from, pipelineResult{err: r.serverErr})
			continue
		}
		deliver(r.from, pipelineResult{replies: r.gathered})
	}
}

func deliver(c caller, res pipelineResult) {
	select {
	case c.replyTo <- res:
	default:
		// caller's buffered slot always has room (replyTo is
		// allocated with capacity 1 per Pipeline call); a full
		// channel here would mean a double-delivery bug.
	}
}

// classifyReadErr turns a low-level read failure into a stop reason:
// a read timeout is labelled "read timeout", and every other read
// error (peer close or transport failure, on plain and TLS
// connections alike) is labelled "tcp_closed" with the original
// error wrapped.
func classifyReadErr(err error) error {
	if err == nil {
		return redis.NewErr(redis.ErrKindIO, redis.ErrIO).WithMsg("tcp_closed")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return redis.NewErrWrap(redis.ErrKindIO, redis.ErrIO, err).WithMsg("read timeout")
	}
	return redis.NewErrWrap(redis.ErrKindIO, redis.ErrIO, err).WithMsg("tcp_closed")
}

// replyReader adapts the incremental, buffer-in-hand redis.Decode
// contract onto a bufio.Reader, growing its peek window until a full
// reply is available.
type replyReader struct {
	br *bufio.Reader
}

func (rr *replyReader) next() (interface{}, error) {
	maxSize := rr.br.Size()
	for {
		buf, _ := rr.br.Peek(rr.br.Buffered())
		reply, n, derr := redis.Decode(buf)
		if derr != nil {
			return nil, derr
		}
		if n > 0 {
			rr.br.Discard(n)
			return reply, nil
		}
		if len(buf) >= maxSize {
			return nil, redis.NewErr(redis.ErrKindResponse, redis.ErrNone).
				WithMsg("reply exceeds read buffer")
		}
		if _, peekErr := rr.br.Peek(len(buf) + 1); peekErr != nil {
			return nil, peekErr
		}
	}
}
