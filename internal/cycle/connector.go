package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/tscast/internal/transport"
)

// DefaultRetryInterval is the pause between failed dials and between
// cycles that ended in error.
const DefaultRetryInterval = time.Second

// ErrConnectorDone is returned by a Connector that has no further
// connections to give.
var ErrConnectorDone = errors.New("cycle: no more connections")

// Connector supplies the connection a cycle streams to.
type Connector interface {
	Connect(ctx context.Context) (transport.Conn, error)
}

// DialFunc matches transport.Dial.
type DialFunc func(ctx context.Context, proto transport.Protocol, addr string, cfg transport.Config) (transport.Conn, error)

// DialConnector dials a listener, retrying until a dial succeeds, ctx
// ends, or MaxAttempts dials have failed.
type DialConnector struct {
	Protocol transport.Protocol
	Addr     string
	Config   transport.Config
	// RetryInterval defaults to DefaultRetryInterval.
	RetryInterval time.Duration
	// MaxAttempts of 0 retries forever.
	MaxAttempts int
	Log         *slog.Logger
	// Dial defaults to transport.Dial.
	Dial DialFunc
}

// Connect dials until a connection is established.
func (d *DialConnector) Connect(ctx context.Context) (transport.Conn, error) {
	dial := d.Dial
	if dial == nil {
		dial = transport.Dial
	}
	interval := d.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "dialer", "addr", d.Addr, "protocol", string(d.Protocol))

	for attempt := 1; ; attempt++ {
		conn, err := dial(ctx, d.Protocol, d.Addr, d.Config)
		if err == nil {
			log.Info("connected", "attempt", attempt)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
			return nil, err
		}
		log.Warn("dial failed, retrying", "attempt", attempt, "retry_in", interval, "error", err)
		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// ListenerConnector hands out the connections accepted by a listener.
type ListenerConnector struct {
	Listener transport.Listener
}

// Connect waits for the next peer.
func (l *ListenerConnector) Connect(ctx context.Context) (transport.Conn, error) {
	return l.Listener.Accept(ctx)
}

// Once returns a Connector that yields conn on the first call and
// ErrConnectorDone afterwards.
func Once(conn transport.Conn) Connector {
	return &onceConnector{conn: conn}
}

type onceConnector struct {
	mu   sync.Mutex
	conn transport.Conn
}

func (o *onceConnector) Connect(ctx context.Context) (transport.Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return nil, ErrConnectorDone
	}
	c := o.conn
	o.conn = nil
	return c, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
