package redisconn

import (
	"net"
	"time"
)

// deadlineIO wraps a net.Conn so every Read/Write call gets a fresh
// per-operation deadline of timeout, instead of relying on a single
// deadline set once for the whole connection. Grounded on the
// teacher's newDeadlineIO helper (referenced but not present in the
// retrieved fragment — reconstructed from its call site
// "dc := newDeadlineIO(connection, conn.opts.IOTimeout)").
type deadlineIO struct {
	net.Conn
	timeout time.Duration
}

func newDeadlineIO(c net.Conn, timeout time.Duration) *deadlineIO {
	return &deadlineIO{Conn: c, timeout: timeout}
}

func (d *deadlineIO) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		d.Conn.SetReadDeadline(time.Now().Add(d.timeout))
	}
	return d.Conn.Read(p)
}

func (d *deadlineIO) Write(p []byte) (int, error) {
	if d.timeout > 0 {
		d.Conn.SetWriteDeadline(time.Now().Add(d.timeout))
	}
	return d.Conn.Write(p)
}
