package redisconn

import (
	"strings"

	"github.com/thiamsantos/redix/redis"
)

// clientReplyMode is the core's view of the server's CLIENT REPLY
// state, per spec.md section 4.4.
type clientReplyMode int

const (
	replyOn clientReplyMode = iota
	replyOff
	replySkip
)

// clientReplyCommand classifies a single submitted command for the
// accounting table in spec.md section 4.4. A command only matches if
// it is exactly the three-element sequence CLIENT REPLY {ON,OFF,SKIP}
// (case-insensitively); anything else is "other".
type clientReplyCommand int

const (
	crOther clientReplyCommand = iota
	crOn
	crOff
	crSkip
)

func classifyCommand(req redis.Request) clientReplyCommand {
	var modeArg interface{}
	switch {
	case strings.EqualFold(req.Cmd, "CLIENT REPLY") && len(req.Args) == 1:
		modeArg = req.Args[0]
	case strings.EqualFold(req.Cmd, "CLIENT") && len(req.Args) == 2:
		sub, ok := req.Args[0].(string)
		if !ok || !strings.EqualFold(sub, "REPLY") {
			return crOther
		}
		modeArg = req.Args[1]
	default:
		return crOther
	}
	arg, ok := modeArg.(string)
	if !ok {
		return crOther
	}
	switch {
	case strings.EqualFold(arg, "ON"):
		return crOn
	case strings.EqualFold(arg, "OFF"):
		return crOff
	case strings.EqualFold(arg, "SKIP"):
		return crSkip
	default:
		return crOther
	}
}

// accountBatch runs the CLIENT REPLY accounting table from spec.md
// section 4.4 over cmds, starting from mode. It returns the number of
// replies the core should wait for (ncommands) and the resulting
// persisted mode.
func accountBatch(mode clientReplyMode, cmds []redis.Request) (ncommands int, newMode clientReplyMode) {
	for _, cmd := range cmds {
		cat := classifyCommand(cmd)
		switch cat {
		case crOff:
			mode = replyOff
		case crSkip:
			if mode == replyOff {
				mode = replyOff
			} else {
				mode = replySkip
			}
		case crOn:
			mode = replyOn
			ncommands++
		default: // other
			switch mode {
			case replyOn:
				ncommands++
			case replyOff:
				// stays off, adds 0
			case replySkip:
				mode = replyOn
				// skip consumes this reply, adds 0
			}
		}
	}
	return ncommands, mode
}
