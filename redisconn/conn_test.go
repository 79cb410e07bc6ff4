package redisconn

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thiamsantos/redix/redis"
)

func testOptions(t *testing.T, s *mockServer) Options {
	t.Helper()
	return Options{
		Host:           s.host,
		Port:           s.port,
		SyncConnect:    true,
		BackoffInitial: 20 * time.Millisecond,
		IOTimeout:      2 * time.Second,
		DialTimeout:    time.Second,
	}
}

// TestHappyPath is spec.md section 8 scenario S1.
func TestHappyPath(t *testing.T) {
	srv := newMockServer(t, func(t *testing.T, conn net.Conn) {
		defer conn.Close()
		br := bufio.NewReader(conn)
		handshakeOK(t, br, conn, false, false)
		for {
			args, err := readCommand(br)
			if err != nil {
				return
			}
			_ = args
			conn.Write([]byte("+PONG\r\n"))
		}
	})
	defer srv.close()

	conn, err := Start(testOptions(t, srv))
	require.NoError(t, err)
	defer conn.Stop(time.Second)

	replies, err := conn.Pipeline([]redis.Request{{Cmd: "PING"}, {Cmd: "PING"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"PONG", "PONG"}, replies)
}

// TestTimeoutThenLateReply is spec.md section 8 scenario S2.
func TestTimeoutThenLateReply(t *testing.T) {
	release := make(chan struct{})
	srv := newMockServer(t, func(t *testing.T, conn net.Conn) {
		defer conn.Close()
		br := bufio.NewReader(conn)
		handshakeOK(t, br, conn, false, false)
		for {
			if _, err := readCommand(br); err != nil {
				return
			}
			<-release
			conn.Write([]byte("+PONG\r\n"))
		}
	})
	defer srv.close()

	conn, err := Start(testOptions(t, srv))
	require.NoError(t, err)
	defer conn.Stop(time.Second)

	_, err = conn.Pipeline([]redis.Request{{Cmd: "PING"}}, 50*time.Millisecond)
	require.Error(t, err)
	rerr, ok := err.(*redis.Error)
	require.True(t, ok)
	assert.Equal(t, redis.ErrTimeout, rerr.Code)

	close(release)
	time.Sleep(100 * time.Millisecond)

	// The connection must still be healthy and usable: the late
	// reply must not have corrupted the FIFO ordering for a
	// subsequent call.
	replies, err := conn.Pipeline([]redis.Request{{Cmd: "PING"}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"PONG"}, replies)
}

// TestMidFlightDisconnect is spec.md section 8 scenario S3.
func TestMidFlightDisconnect(t *testing.T) {
	conns := make(chan net.Conn, 1)
	srv := newMockServer(t, func(t *testing.T, conn net.Conn) {
		br := bufio.NewReader(conn)
		handshakeOK(t, br, conn, false, false)
		conns <- conn
		for {
			if _, err := readCommand(br); err != nil {
				return
			}
			// never reply: callers block until the socket is closed.
		}
	})
	defer srv.close()

	opts := testOptions(t, srv)
	conn, err := Start(opts)
	require.NoError(t, err)
	defer conn.Stop(time.Second)

	type result struct {
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := conn.Pipeline([]redis.Request{{Cmd: "BLPOP", Args: []interface{}{"k", 0}}}, InfiniteTimeout)
			results <- result{err: err}
		}()
	}

	serverSide := <-conns
	time.Sleep(30 * time.Millisecond) // let both BLPOPs reach the table
	serverSide.Close()

	for i := 0; i < 2; i++ {
		r := <-results
		require.Error(t, r.err)
		rerr, ok := r.err.(*redis.Error)
		require.True(t, ok)
		assert.Equal(t, redis.ErrDisconnected, rerr.Code)
	}

	require.Eventually(t, func() bool {
		return !conn.ConnectedNow()
	}, time.Second, 5*time.Millisecond)
}

// TestSubmitWhileDisconnected is spec.md section 8 scenario S6.
func TestSubmitWhileDisconnected(t *testing.T) {
	srv := newMockServer(t, func(t *testing.T, conn net.Conn) {
		defer conn.Close()
		br := bufio.NewReader(conn)
		handshakeOK(t, br, conn, false, false)
		conn.Close()
	})

	opts := testOptions(t, srv)
	conn, err := Start(opts)
	require.NoError(t, err)
	defer conn.Stop(time.Second)

	require.Eventually(t, func() bool {
		return !conn.MayBeConnected()
	}, time.Second, 5*time.Millisecond)
	srv.close()

	start := time.Now()
	_, err = conn.Pipeline([]redis.Request{{Cmd: "PING"}}, time.Second)
	elapsed := time.Since(start)

	require.Error(t, err)
	rerr, ok := err.(*redis.Error)
	require.True(t, ok)
	assert.Equal(t, redis.ErrClosed, rerr.Code)
	assert.Less(t, elapsed, 100*time.Millisecond)
}
