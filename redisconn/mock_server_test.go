package redisconn

import (
	"bufio"
	"net"
	"testing"
)

// mockServer is a minimal scripted Redis server used by the
// end-to-end scenarios in spec.md section 8. Each accepted connection
// is handed to handle, which owns the raw wire from there on — it is
// responsible for replying to the handshake PING (and AUTH/SELECT, if
// the test configures them) as well as any subsequent commands.
type mockServer struct {
	ln     net.Listener
	host   string
	port   int
	handle func(t *testing.T, conn net.Conn)
}

func newMockServer(t *testing.T, handle func(t *testing.T, conn net.Conn)) *mockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mockServer: listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &mockServer{ln: ln, host: addr.IP.String(), port: addr.Port, handle: handle}
	go s.serve(t)
	return s
}

func (s *mockServer) serve(t *testing.T) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(t, conn)
	}
}

func (s *mockServer) close() {
	s.ln.Close()
}

// readCommand reads one client-sent RESP array-of-bulk-strings
// request off br and returns its string arguments.
func readCommand(br *bufio.Reader) ([]string, error) {
	rr := &replyReader{br: br}
	reply, err := rr.next()
	if err != nil {
		return nil, err
	}
	items, _ := reply.([]interface{})
	args := make([]string, 0, len(items))
	for _, it := range items {
		args = append(args, it.(string))
	}
	return args, nil
}

// handshakeOK replies +PONG to the PING the Socket Owner always sends
// during handshake (optionally preceded by +OK for AUTH, and followed
// by +OK for SELECT), leaving br/w positioned right after it.
func handshakeOK(t *testing.T, br *bufio.Reader, conn net.Conn, withAuth, withSelect bool) {
	t.Helper()
	if withAuth {
		if _, err := readCommand(br); err != nil {
			return
		}
		conn.Write([]byte("+OK\r\n"))
	}
	if _, err := readCommand(br); err != nil {
		return
	}
	conn.Write([]byte("+PONG\r\n"))
	if withSelect {
		if _, err := readCommand(br); err != nil {
			return
		}
		conn.Write([]byte("+OK\r\n"))
	}
}
