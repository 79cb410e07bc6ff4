package redisconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thiamsantos/redix/redis"
)

func reqs(cmds ...string) []redis.Request {
	out := make([]redis.Request, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, redis.Request{Cmd: c})
	}
	return out
}

func clientReply(mode string) redis.Request {
	return redis.Request{Cmd: "CLIENT REPLY", Args: []interface{}{mode}}
}

func TestAccountBatch(t *testing.T) {
	cases := []struct {
		name      string
		startMode clientReplyMode
		cmds      []redis.Request
		wantN     int
		wantMode  clientReplyMode
	}{
		{
			name:      "plain commands in on mode",
			startMode: replyOn,
			cmds:      reqs("PING", "PING"),
			wantN:     2,
			wantMode:  replyOn,
		},
		{
			name:      "OFF then SET then ON — spec.md S5",
			startMode: replyOn,
			cmds:      []redis.Request{clientReply("OFF"), {Cmd: "SET", Args: []interface{}{"x", "1"}}, clientReply("ON")},
			wantN:     1,
			wantMode:  replyOn,
		},
		{
			name:      "OFF then SKIP stays off and adds nothing",
			startMode: replyOn,
			cmds:      []redis.Request{clientReply("OFF"), clientReply("SKIP")},
			wantN:     0,
			wantMode:  replyOff,
		},
		{
			name:      "SKIP from on enters skip mode and consumes next reply",
			startMode: replyOn,
			cmds:      []redis.Request{clientReply("SKIP"), {Cmd: "SET", Args: []interface{}{"x", "1"}}},
			wantN:     0,
			wantMode:  replyOn,
		},
		{
			name:      "other command while off stays off",
			startMode: replyOff,
			cmds:      reqs("GET"),
			wantN:     0,
			wantMode:  replyOff,
		},
		{
			name:      "ON is idempotent-additive regardless of current mode",
			startMode: replyOff,
			cmds:      []redis.Request{clientReply("ON")},
			wantN:     1,
			wantMode:  replyOn,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, mode := accountBatch(tc.startMode, tc.cmds)
			assert.Equal(t, tc.wantN, n)
			assert.Equal(t, tc.wantMode, mode)
		})
	}
}

func TestClassifyCommandCaseInsensitive(t *testing.T) {
	assert.Equal(t, crOn, classifyCommand(redis.Request{Cmd: "client reply", Args: []interface{}{"on"}}))
	assert.Equal(t, crOff, classifyCommand(redis.Request{Cmd: "Client Reply", Args: []interface{}{"Off"}}))
	assert.Equal(t, crOther, classifyCommand(redis.Request{Cmd: "GET", Args: []interface{}{"k"}}))
	assert.Equal(t, crOther, classifyCommand(redis.Request{Cmd: "CLIENT REPLY", Args: []interface{}{"on", "extra"}}))
}
