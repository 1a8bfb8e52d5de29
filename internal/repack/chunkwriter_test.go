package repack

import (
	"bytes"
	"context"
	"testing"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/relay"
)

func TestChunkWriter_DropsWhenFull(t *testing.T) {
	t.Parallel()
	q := relay.NewQueue(4)
	w := NewChunkWriter(q, nil)
	for i := 0; i < 5; i++ {
		w.WriteChunk(media.Chunk{Seq: uint64(i), Data: []byte{byte(i)}})
	}
	if w.Accepted() != 4 || w.Dropped() != 1 {
		t.Fatalf("accepted=%d dropped=%d, want 4 and 1", w.Accepted(), w.Dropped())
	}
	for i := 0; i < 4; i++ {
		c, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if c.Seq != uint64(i) {
			t.Errorf("dequeue %d: seq %d", i, c.Seq)
		}
	}

	q.Close()
	w.WriteChunk(media.Chunk{Seq: 9})
	if w.Discarded() != 1 {
		t.Errorf("Discarded = %d, want 1", w.Discarded())
	}
}

func TestChunkWriter_RepacketizerIntoQueue(t *testing.T) {
	t.Parallel()
	q := relay.NewQueue(8)
	w := NewChunkWriter(q, nil)
	r, err := New(FormatRaw, nil, w, 0)
	if err != nil {
		t.Fatal(err)
	}
	var want []byte
	for i := 0; i < 3; i++ {
		p := bytes.Repeat([]byte{byte(i)}, 2000)
		want = append(want, p...)
		if err := r.Push(media.TimedPacket{Payload: p}); err != nil {
			t.Fatal(err)
		}
	}
	q.Close()

	var got []byte
	n := 0
	for {
		c, err := q.Dequeue(context.Background())
		if err != nil {
			break
		}
		got = append(got, c.Data...)
		n++
	}
	if n != 6 || w.Dropped() != 0 {
		t.Errorf("chunks=%d dropped=%d, want 6 and 0", n, w.Dropped())
	}
	if !bytes.Equal(got, want) {
		t.Error("dequeued bytes differ from pushed payloads")
	}
}
