package receiver

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/tscast/internal/transport"
	"github.com/zsiec/tscast/internal/transport/transporttest"
)

func TestReceiver_UntilEOF(t *testing.T) {
	t.Parallel()
	conn := transporttest.NewConn()
	conn.Push(bytes.Repeat([]byte{1}, 1316))
	conn.Push(bytes.Repeat([]byte{2}, 684))
	conn.CloseWrite()

	var sink bytes.Buffer
	totals, err := New(conn, &sink, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if totals.Messages != 2 || totals.Bytes != 2000 {
		t.Errorf("totals = %+v", totals)
	}
	if sink.Len() != 2000 || sink.Bytes()[1316] != 2 {
		t.Error("sink does not hold the payloads in order")
	}
	if totals.First.IsZero() || totals.Last.Before(totals.First) {
		t.Errorf("first=%v last=%v", totals.First, totals.Last)
	}
}

func TestReceiver_Cancel(t *testing.T) {
	t.Parallel()
	conn := transporttest.NewConn()
	conn.Push([]byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r := New(conn, nil, nil)
	go func() {
		_, err := r.Run(ctx)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.Totals().Messages == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no message received")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if !conn.Closed() {
		t.Error("cancel should close the connection")
	}
}

func TestReceiver_ReadError(t *testing.T) {
	t.Parallel()
	conn := transporttest.NewConn()
	conn.Close()
	_, err := New(conn, nil, nil).Run(context.Background())
	var te *transport.Error
	if !errors.As(err, &te) || te.Op != "read" {
		t.Errorf("Run = %v, want transport read error", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestReceiver_SinkError(t *testing.T) {
	t.Parallel()
	conn := transporttest.NewConn()
	conn.Push([]byte("x"))
	totals, err := New(conn, failingWriter{}, nil).Run(context.Background())
	if err == nil || totals.Messages != 1 {
		t.Errorf("Run = %+v, %v; want sink error after one message", totals, err)
	}
}
