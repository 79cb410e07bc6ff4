package redisconn

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/thiamsantos/redix/redis"
)

const (
	defaultIOTimeout      = 1 * time.Second
	defaultDialTimeout    = 5 * time.Second
	defaultBackoffInitial = 500 * time.Millisecond
)

// InfiniteBackoff marks Options.BackoffMax as having no ceiling.
const InfiniteBackoff time.Duration = -1

// InfiniteTimeout marks a per-request Pipeline timeout as disabled.
const InfiniteTimeout time.Duration = 0

// Options configures a Connection. It mirrors the teacher's Opts
// struct, extended with the sync/backoff/TLS knobs the core's state
// machine needs.
type Options struct {
	// Host and Port address the Redis server. Addr(), built from
	// these, is what Socket Owner dials.
	Host string
	Port int

	// TLSConfig, when non-nil, selects the tls transport variant and
	// is passed to tls.DialWithDialer as-is.
	TLSConfig *tls.Config

	// DB selects the logical database with SELECT during handshake.
	DB int
	// Password, when set, is sent via AUTH during handshake.
	Password string
	// Username selects AUTH user pass (Redis 6 ACL) over AUTH pass.
	Username string

	// SentinelName is carried through for a higher-level sentinel
	// discovery collaborator; the core itself never reads it.
	SentinelName string

	// SyncConnect, if true, makes Start block until the first
	// connection attempt either succeeds or fails.
	SyncConnect bool
	// ExitOnDisconnection, if true, makes any disconnection fatal to
	// the Controller instead of triggering a reconnect.
	ExitOnDisconnection bool

	// BackoffInitial is the reconnect delay after the first
	// disconnection following a successful connection.
	BackoffInitial time.Duration
	// BackoffMax clamps the backoff sequence. InfiniteBackoff disables
	// the clamp.
	BackoffMax time.Duration

	// DialTimeout bounds the TCP/TLS handshake.
	DialTimeout time.Duration
	// IOTimeout bounds each handshake read and every socket write;
	// steady-state reply reads have no deadline.
	IOTimeout time.Duration

	Logger Logger
}

func (o *Options) setDefaults() error {
	if o.Host == "" {
		return redis.NewErr(redis.ErrKindOpts, redis.ErrNoAddressProvided)
	}
	if o.Port == 0 {
		o.Port = 6379
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = defaultIOTimeout
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = defaultBackoffInitial
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = InfiniteBackoff
	}
	if o.Logger == nil {
		o.Logger = NewLogrusLogger(nil)
	}
	return nil
}

func validate(o Options) error {
	if o.Host == "" {
		return errors.Wrap(redis.NewErr(redis.ErrKindOpts, redis.ErrNoAddressProvided), "redisconn: validate options")
	}
	if o.Port < 0 || o.Port > 65535 {
		return errors.Wrapf(redis.NewErr(redis.ErrKindOpts, redis.ErrNone), "redisconn: invalid port %d", o.Port)
	}
	if o.BackoffMax != InfiniteBackoff && o.BackoffMax < o.BackoffInitial {
		return errors.Wrap(redis.NewErr(redis.ErrKindOpts, redis.ErrNone),
			"redisconn: backoff_max must be >= backoff_initial or InfiniteBackoff")
	}
	return nil
}

// Addr returns the host:port dial target for this configuration.
func (o *Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}
