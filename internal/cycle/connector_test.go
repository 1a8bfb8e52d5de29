package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/tscast/internal/transport"
	"github.com/zsiec/tscast/internal/transport/transporttest"
)

func TestDialConnector(t *testing.T) {
	t.Parallel()
	refused := errors.New("connection refused")

	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantErr     error
		wantDials   int
	}{
		{"first_try", 0, 0, nil, 1},
		{"retries_until_up", 3, 0, nil, 4},
		{"gives_up", 5, 2, refused, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dials := 0
			d := &DialConnector{
				Protocol:      transport.ProtocolSRT,
				Addr:          "127.0.0.1:9000",
				RetryInterval: time.Millisecond,
				MaxAttempts:   tc.maxAttempts,
				Dial: func(_ context.Context, proto transport.Protocol, addr string, _ transport.Config) (transport.Conn, error) {
					dials++
					if proto != transport.ProtocolSRT || addr != "127.0.0.1:9000" {
						t.Errorf("dial(%q, %q)", proto, addr)
					}
					if dials <= tc.failures {
						return nil, refused
					}
					return transporttest.NewConn(), nil
				},
			}
			conn, err := d.Connect(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Connect = %v, want %v", err, tc.wantErr)
			}
			if (conn != nil) != (tc.wantErr == nil) {
				t.Errorf("conn = %v", conn)
			}
			if dials != tc.wantDials {
				t.Errorf("dials = %d, want %d", dials, tc.wantDials)
			}
		})
	}
}

func TestDialConnector_Cancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	d := &DialConnector{
		RetryInterval: time.Hour,
		Dial: func(context.Context, transport.Protocol, string, transport.Config) (transport.Conn, error) {
			return nil, errors.New("unreachable")
		},
	}
	if _, err := d.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect = %v, want deadline exceeded", err)
	}
}

func TestOnce(t *testing.T) {
	t.Parallel()
	conn := transporttest.NewConn()
	o := Once(conn)
	got, err := o.Connect(context.Background())
	if err != nil || got != conn {
		t.Fatalf("first Connect = %v, %v", got, err)
	}
	if _, err := o.Connect(context.Background()); !errors.Is(err, ErrConnectorDone) {
		t.Errorf("second Connect = %v, want ErrConnectorDone", err)
	}
}

type stubListener struct {
	conns chan transport.Conn
}

func (l *stubListener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *stubListener) Close() error { return nil }
func (l *stubListener) Addr() string { return "stub" }

func TestListenerConnector(t *testing.T) {
	t.Parallel()
	l := &stubListener{conns: make(chan transport.Conn, 1)}
	conn := transporttest.NewConn()
	l.conns <- conn

	lc := &ListenerConnector{Listener: l}
	got, err := lc.Connect(context.Background())
	if err != nil || got != conn {
		t.Fatalf("Connect = %v, %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lc.Connect(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect = %v, want canceled", err)
	}
}
