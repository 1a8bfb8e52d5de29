package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/mpegts"
)

// tsSource reads a raw MPEG-TS byte stream.
type tsSource struct {
	uri     string
	demux   *mpegts.Demuxer
	closer  io.Closer
	live    bool
	log     *slog.Logger
	streams []media.StreamInfo
	byPID   map[uint16]int

	clock   unwrapper
	origin  int64
	started bool
	lastPTS map[int]time.Duration

	closeOnce sync.Once
}

// newTSSource probes r for a program map. closer, when not nil, is closed
// by Close and on failure.
func newTSSource(ctx context.Context, uri string, r io.Reader, closer io.Closer, live bool, log *slog.Logger) (*tsSource, error) {
	s := &tsSource{
		uri:     uri,
		demux:   mpegts.NewDemuxer(bufio.NewReaderSize(r, 64*mpegts.PacketSize)),
		closer:  closer,
		live:    live,
		log:     log,
		byPID:   make(map[uint16]int),
		lastPTS: make(map[int]time.Duration),
	}
	if err := s.demux.Probe(ctx); err != nil {
		s.Close()
		if errors.Is(err, mpegts.ErrNoProgram) {
			err = ErrNoStreams
		}
		return nil, &SourceError{URI: uri, Op: "probe", Err: err}
	}

	pm := s.demux.ProgramMap()
	for _, es := range pm.Streams {
		kind := media.KindData
		switch {
		case mpegts.IsVideo(es.StreamType):
			kind = media.KindVideo
		case mpegts.IsAudio(es.StreamType):
			kind = media.KindAudio
		}
		s.byPID[es.PID] = len(s.streams)
		s.streams = append(s.streams, media.StreamInfo{
			Index:      len(s.streams),
			Kind:       kind,
			StreamType: es.StreamType,
			PID:        es.PID,
		})
	}
	if len(s.streams) == 0 {
		s.Close()
		return nil, &SourceError{URI: uri, Op: "probe", Err: ErrNoStreams}
	}
	return s, nil
}

func (s *tsSource) Streams() []media.StreamInfo { return s.streams }

func (s *tsSource) Live() bool { return s.live }

func (s *tsSource) ReadPacket(ctx context.Context) (media.TimedPacket, error) {
	for {
		u, err := s.demux.ReadUnit(ctx)
		if err != nil {
			var ue *mpegts.UnitError
			switch {
			case errors.As(err, &ue):
				idx, ok := s.byPID[ue.PID]
				if !ok {
					continue
				}
				return media.TimedPacket{}, &PacketError{StreamID: idx, Err: ue.Err}
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return media.TimedPacket{}, io.EOF
			case ctx.Err() != nil:
				return media.TimedPacket{}, ctx.Err()
			}
			return media.TimedPacket{}, &SourceError{URI: s.uri, Op: "read", Err: err}
		}

		idx, ok := s.byPID[u.PID]
		if !ok {
			// A PMT update added a stream the cycle was not set up for.
			continue
		}
		return s.packet(idx, u), nil
	}
}

// packet converts a unit. Timestamps are unwrapped past the 33-bit
// rollover and made relative to the first timestamp of the source. A unit
// without a PTS inherits the previous one of its stream.
func (s *tsSource) packet(idx int, u *mpegts.Unit) media.TimedPacket {
	p := media.TimedPacket{
		StreamID: idx,
		Keyframe: u.RandomAccess || mpegts.IsRandomAccess(u.StreamType, u.Data),
		Payload:  u.Data,
	}
	if !u.HasPTS {
		p.PTS = s.lastPTS[idx]
		p.DTS = p.PTS
		return p
	}

	pts := s.clock.unwrap(u.PTS)
	if !s.started {
		s.origin, s.started = pts, true
	}
	p.PTS = ticksToDuration(pts - s.origin)
	p.DTS = p.PTS
	if u.HasDTS {
		p.DTS = p.PTS - ticksToDuration((u.PTS-u.DTS)&mpegts.MaxTimestamp)
	}
	s.lastPTS[idx] = p.PTS
	return p
}

func (s *tsSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// ticksToDuration converts 90 kHz ticks; 1e9/90000 reduces to 100000/9.
func ticksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks * 100000 / 9)
}

// unwrapper extends 33-bit 90 kHz timestamps across rollover. A jump of
// more than half the range is taken as a wrap in that direction.
type unwrapper struct {
	offset  int64
	last    int64
	started bool
}

const (
	tsRange = mpegts.MaxTimestamp + 1
	tsHalf  = tsRange / 2
)

func (w *unwrapper) unwrap(ts int64) int64 {
	if w.started {
		switch d := ts + w.offset - w.last; {
		case d < -tsHalf:
			w.offset += tsRange
		case d > tsHalf:
			w.offset -= tsRange
		}
	}
	v := ts + w.offset
	w.last, w.started = v, true
	return v
}
