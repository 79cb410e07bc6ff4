package redis

import (
	"strconv"
)

// Request is a single Redis command and its arguments, ready to be
// encoded onto the wire with AppendRequest. Cmd may contain an
// embedded space (e.g. "CLIENT REPLY") to encode as a two-token
// command name, matching how Redis documents compound commands.
type Request struct {
	Cmd  string
	Args []interface{}
}

// CheckArgs reports whether every argument of req is of a type
// AppendRequest knows how to encode, without doing any encoding work.
// The core calls this before taking a table slot so a malformed
// request never consumes a counter.
func CheckArgs(req Request) *Error {
	for _, val := range req.Args {
		switch val.(type) {
		case string, []byte, int, uint, int64, uint64, int32, uint32,
			int8, uint8, int16, uint16, bool, float32, float64, nil:
			continue
		default:
			return NewErr(ErrKindRequest, ErrArgumentType).
				With("val", val).With("request", req)
		}
	}
	return nil
}

func AppendRequest(buf []byte, req Request) ([]byte, *Error) {
	space := -1
	for i, c := range []byte(req.Cmd) {
		if c == ' ' {
			space = i
		}
	}
	if space == -1 {
		buf = appendHead(buf, '*', int64(len(req.Args)+1))
		buf = appendHead(buf, '$', int64(len(req.Cmd)))
		buf = append(buf, req.Cmd...)
		buf = append(buf, '\r', '\n')
	} else {
		buf = appendHead(buf, '*', int64(len(req.Args)+2))
		buf = appendHead(buf, '$', int64(space))
		buf = append(buf, req.Cmd[:space]...)
		buf = append(buf, '\r', '\n')
		buf = appendHead(buf, '$', int64(len(req.Cmd)-space-1))
		buf = append(buf, req.Cmd[space+1:]...)
		buf = append(buf, '\r', '\n')
	}
	for _, val := range req.Args {
		switch v := val.(type) {
		case string:
			buf = appendHead(buf, '$', int64(len(v)))
			buf = append(buf, v...)
		case []byte:
			buf = appendHead(buf, '$', int64(len(v)))
			buf = append(buf, v...)
		case int:
			buf = appendBulkInt(buf, int64(v))
		case uint:
			buf = appendBulkUint(buf, uint64(v))
		case int64:
			buf = appendBulkInt(buf, int64(v))
		case uint64:
			buf = appendBulkUint(buf, uint64(v))
		case int32:
			buf = appendBulkInt(buf, int64(v))
		case uint32:
			buf = appendBulkUint(buf, uint64(v))
		case int8:
			buf = appendBulkInt(buf, int64(v))
		case uint8:
			buf = appendBulkUint(buf, uint64(v))
		case int16:
			buf = appendBulkInt(buf, int64(v))
		case uint16:
			buf = appendBulkUint(buf, uint64(v))
		case bool:
			if v {
				buf = append(buf, "$1\r\n1"...)
			} else {
				buf = append(buf, "$1\r\n0"...)
			}
		case float32:
			str := strconv.FormatFloat(float64(v), 'f', -1, 32)
			buf = appendHead(buf, '$', int64(len(str)))
			buf = append(buf, str...)
		case float64:
			str := strconv.FormatFloat(v, 'f', -1, 64)
			buf = appendHead(buf, '$', int64(len(str)))
			buf = append(buf, str...)
		case nil:
			buf = append(buf, "$0\r\n"...)
		default:
			return nil, NewErr(ErrKindRequest, ErrArgumentType).
				With("val", val).With("request", req)
		}
		buf = append(buf, '\r', '\n')
	}
	return buf, nil
}

func appendInt(b []byte, i int64) []byte {
	var u uint64
	if i >= 0 && i <= 9 {
		b = append(b, byte(i)+'0')
		return b
	}
	if i > 0 {
		u = uint64(i)
	} else {
		b = append(b, '-')
		u = uint64(-i)
	}
	return appendUint(b, u)
}

func appendUint(b []byte, u uint64) []byte {
	digits := [20]byte{}
	p := 20
	for u > 0 {
		n := u / 10
		p--
		digits[p] = byte(u-n*10) + '0'
		u = n
	}
	return append(b, digits[p:]...)
}

func appendHead(b []byte, t byte, i int64) []byte {
	b = append(b, t)
	b = appendInt(b, i)
	return append(b, '\r', '\n')
}

func appendBulkInt(b []byte, i int64) []byte {
	if i >= -99999999 && i <= 999999999 {
		b = append(b, '$', '0', '\r', '\n')
	} else {
		b = append(b, '$', '0', '0', '\r', '\n')
	}
	l := len(b)
	b = appendInt(b, i)
	li := byte(len(b) - l)
	if li < 10 {
		b[l-3] = li + '0'
	} else {
		d := li / 10
		b[l-4] = d + '0'
		b[l-3] = li - (d * 10) + '0'
	}
	return b
}

func appendBulkUint(b []byte, i uint64) []byte {
	if i <= 999999999 {
		b = append(b, '$', '0', '\r', '\n')
	} else {
		b = append(b, '$', '1', '0', '\r', '\n')
	}
	l := len(b)
	b = appendUint(b, i)
	li := byte(len(b) - l)
	if li < 10 {
		b[l-3] = li + '0'
	} else {
		d := li / 10
		b[l-4] = d + '0'
		b[l-3] = li - (d * 10) + '0'
	}
	return b
}
