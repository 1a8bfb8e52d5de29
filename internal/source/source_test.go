package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/mpegts"
)

// buildTS muxes one H.264 stream on 0x100 and one AAC stream on 0x101 with
// the given 90 kHz video timestamps.
func buildTS(t *testing.T, videoPTS []int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)
	if err := m.AddStream(0x100, mpegts.StreamTypeH264); err != nil {
		t.Fatal(err)
	}
	if err := m.AddStream(0x101, mpegts.StreamTypeAAC); err != nil {
		t.Fatal(err)
	}
	for i, pts := range videoPTS {
		u := &mpegts.Unit{PID: 0x100, PTS: pts, HasPTS: true, RandomAccess: i == 0, Data: bytes.Repeat([]byte{byte(i)}, 300)}
		if err := m.WriteUnit(u); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func readAll(t *testing.T, src Source) []media.TimedPacket {
	t.Helper()
	var out []media.TimedPacket
	for {
		p, err := src.ReadPacket(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, p)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		uri  string
		want sourceKind
	}{
		{"-", kindStdin},
		{"movie.mp4", kindAVFile},
		{"/data/clip.flv", kindAVFile},
		{"capture.ts", kindTSFile},
		{"/data/CAPTURE.M2TS", kindTSFile},
		{"srt://10.0.0.1:9000?streamid=live/a", kindTransport},
		{"quic://edge:4433", kindTransport},
		{"rtmp://origin/live/a", kindAVLive},
		{"rtsp://cam.local/stream1", kindAVLive},
	}
	for _, tc := range tests {
		if got := classify(tc.uri); got != tc.want {
			t.Errorf("classify(%q) = %d, want %d", tc.uri, got, tc.want)
		}
	}
}

func TestOpen_TSFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "in.ts")
	if err := os.WriteFile(path, buildTS(t, []int64{90000, 93000, 99000}), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if src.Live() {
		t.Error("file source should not be live")
	}
	streams := src.Streams()
	if len(streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(streams))
	}
	if streams[0].Kind != media.KindVideo || streams[0].PID != 0x100 || streams[0].StreamType != mpegts.StreamTypeH264 {
		t.Errorf("stream 0 = %+v", streams[0])
	}
	if streams[1].Kind != media.KindAudio {
		t.Errorf("stream 1 kind = %v", streams[1].Kind)
	}

	pkts := readAll(t, src)
	want := []time.Duration{0, 3000 * time.Second / 90000, 9000 * time.Second / 90000}
	if len(pkts) != len(want) {
		t.Fatalf("packets = %d, want %d", len(pkts), len(want))
	}
	for i, p := range pkts {
		if p.PTS != want[i] {
			t.Errorf("packet %d: PTS = %v, want %v", i, p.PTS, want[i])
		}
		if p.StreamID != 0 || len(p.Payload) != 300 {
			t.Errorf("packet %d: stream %d, %d bytes", i, p.StreamID, len(p.Payload))
		}
	}
	if !pkts[0].Keyframe || pkts[1].Keyframe {
		t.Error("keyframe flags not carried")
	}
}

func TestOpen_TSKeyframeFromNAL(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)
	if err := m.AddStream(0x100, mpegts.StreamTypeH264); err != nil {
		t.Fatal(err)
	}
	payloads := [][]byte{
		{0, 0, 0, 1, 0x09, 0xF0, 0, 0, 1, 0x41, 0x9A, 0x01},
		{0, 0, 0, 1, 0x09, 0xF0, 0, 0, 0, 1, 0x67, 0x42, 0, 0, 1, 0x65, 0x88, 0x84},
	}
	for i, data := range payloads {
		if err := m.WriteUnit(&mpegts.Unit{PID: 0x100, PTS: int64(i) * 3000, HasPTS: true, Data: data}); err != nil {
			t.Fatal(err)
		}
	}

	src, err := Open(context.Background(), "-", WithStdin(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	pkts := readAll(t, src)
	if len(pkts) != 2 {
		t.Fatalf("packets = %d, want 2", len(pkts))
	}
	if pkts[0].Keyframe || !pkts[1].Keyframe {
		t.Errorf("keyframes = %v %v, want false true", pkts[0].Keyframe, pkts[1].Keyframe)
	}
}

func TestOpen_Stdin(t *testing.T) {
	t.Parallel()
	stdin := bytes.NewReader(buildTS(t, []int64{0, 9000}))
	src, err := Open(context.Background(), "-", WithStdin(stdin))
	if err != nil {
		t.Fatal(err)
	}
	if !src.Live() {
		t.Error("stdin source should be live")
	}
	if n := len(readAll(t, src)); n != 2 {
		t.Errorf("packets = %d, want 2", n)
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.ts")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		uri       string
		wantNoStr bool
	}{
		{"missing_ts", filepath.Join(dir, "missing.ts"), false},
		{"missing_mp4", filepath.Join(dir, "missing.mp4"), false},
		{"empty_ts", empty, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Open(context.Background(), tc.uri)
			var se *SourceError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *SourceError", err)
			}
			if se.URI != tc.uri {
				t.Errorf("URI = %q", se.URI)
			}
			if got := errors.Is(err, ErrNoStreams); got != tc.wantNoStr {
				t.Errorf("errors.Is(err, ErrNoStreams) = %v, want %v", got, tc.wantNoStr)
			}
		})
	}
}

func TestOpen_StdinExhausted(t *testing.T) {
	t.Parallel()
	stdin := bytes.NewReader(buildTS(t, []int64{0, 9000}))
	src, err := Open(context.Background(), "-", WithStdin(stdin))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(readAll(t, src)); n != 2 {
		t.Fatalf("packets = %d, want 2", n)
	}
	src.Close()

	_, err = Open(context.Background(), "-", WithStdin(stdin))
	var se *SourceError
	if !errors.As(err, &se) || !errors.Is(err, ErrExhausted) {
		t.Fatalf("reopen = %v, want SourceError wrapping ErrExhausted", err)
	}

	// Bytes without a program are not an exhausted input.
	_, err = Open(context.Background(), "-", WithStdin(bytes.NewReader(bytes.Repeat([]byte{0xFF}, 4*mpegts.PacketSize))))
	if errors.Is(err, ErrExhausted) || err == nil {
		t.Errorf("garbage stdin = %v, want a non-exhausted error", err)
	}
}

func TestTSSource_TimestampWrap(t *testing.T) {
	t.Parallel()
	near := int64(mpegts.MaxTimestamp - 4499)
	src, err := Open(context.Background(), "-", WithStdin(bytes.NewReader(buildTS(t, []int64{near, 4500}))))
	if err != nil {
		t.Fatal(err)
	}
	pkts := readAll(t, src)
	if len(pkts) != 2 {
		t.Fatalf("packets = %d, want 2", len(pkts))
	}
	if want := 100 * time.Millisecond; pkts[1].PTS != want {
		t.Errorf("PTS after wrap = %v, want %v", pkts[1].PTS, want)
	}
}

func TestUnwrapper(t *testing.T) {
	t.Parallel()
	var w unwrapper
	in := []int64{mpegts.MaxTimestamp - 10, 5, 100, mpegts.MaxTimestamp - 20, 200}
	want := []int64{mpegts.MaxTimestamp - 10, tsRange + 5, tsRange + 100, mpegts.MaxTimestamp - 20, tsRange + 200}
	for i, ts := range in {
		if got := w.unwrap(ts); got != want[i] {
			t.Errorf("unwrap(%d) = %d, want %d", ts, got, want[i])
		}
	}
}

func TestTicksToDuration(t *testing.T) {
	t.Parallel()
	if got := ticksToDuration(90000); got != time.Second {
		t.Errorf("ticksToDuration(90000) = %v", got)
	}
	if got := ticksToDuration(-9000); got != -100*time.Millisecond {
		t.Errorf("ticksToDuration(-9000) = %v", got)
	}
}

func TestPackets(t *testing.T) {
	t.Parallel()
	src := NewPackets(nil, []media.TimedPacket{{PTS: 0}, {PTS: time.Second}})
	if n := len(readAll(t, src)); n != 2 {
		t.Fatalf("packets = %d, want 2", n)
	}

	src = NewPackets(nil, []media.TimedPacket{{PTS: 0}})
	src.Close()
	if _, err := src.ReadPacket(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("after Close err = %v, want EOF", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPackets(nil, []media.TimedPacket{{}}).ReadPacket(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
