package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/av/avutil"
	"github.com/nareix/joy4/format"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/mpegts"
)

var registerFormats sync.Once

// avSource wraps a joy4 demuxer.
type avSource struct {
	uri     string
	demux   av.DemuxCloser
	live    bool
	streams []media.StreamInfo

	closeOnce sync.Once
}

// openAV opens uri through joy4's format handlers. avutil.Open cannot be
// cancelled, so it runs in its own goroutine; a demuxer that opens after
// ctx is done is closed.
func openAV(ctx context.Context, uri string, live bool, log *slog.Logger) (*avSource, error) {
	registerFormats.Do(format.RegisterAll)

	type openResult struct {
		d   av.DemuxCloser
		err error
	}
	ch := make(chan openResult, 1)
	go func() {
		d, err := avutil.Open(uri)
		ch <- openResult{d, err}
	}()

	var d av.DemuxCloser
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &SourceError{URI: uri, Op: "open", Err: res.err}
		}
		d = res.d
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.err == nil {
				res.d.Close()
			}
		}()
		return nil, ctx.Err()
	}

	codecs, err := d.Streams()
	if err != nil {
		d.Close()
		return nil, &SourceError{URI: uri, Op: "probe", Err: err}
	}
	s := &avSource{uri: uri, demux: d, live: live}
	for i, c := range codecs {
		info := media.StreamInfo{Index: i, Kind: media.KindData, Codec: c}
		switch t := c.Type(); {
		case t == av.H264:
			info.Kind, info.StreamType = media.KindVideo, mpegts.StreamTypeH264
		case t == av.AAC:
			info.Kind, info.StreamType = media.KindAudio, mpegts.StreamTypeAAC
		case t.IsVideo():
			info.Kind = media.KindVideo
		case t.IsAudio():
			info.Kind = media.KindAudio
		}
		s.streams = append(s.streams, info)
	}
	if len(s.streams) == 0 {
		d.Close()
		return nil, &SourceError{URI: uri, Op: "probe", Err: ErrNoStreams}
	}
	log.Debug("joy4 demuxer ready", "codecs", len(codecs))
	return s, nil
}

func (s *avSource) Streams() []media.StreamInfo { return s.streams }

func (s *avSource) Live() bool { return s.live }

// ReadPacket returns the next packet. joy4 demuxers lose their position
// after a read error, so any error other than io.EOF ends the source.
func (s *avSource) ReadPacket(ctx context.Context) (media.TimedPacket, error) {
	if err := ctx.Err(); err != nil {
		return media.TimedPacket{}, err
	}
	pkt, err := s.demux.ReadPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return media.TimedPacket{}, io.EOF
		}
		if ctx.Err() != nil {
			return media.TimedPacket{}, ctx.Err()
		}
		return media.TimedPacket{}, &SourceError{URI: s.uri, Op: "read", Err: err}
	}
	return media.TimedPacket{
		PTS:      pkt.Time + pkt.CompositionTime,
		DTS:      pkt.Time,
		StreamID: int(pkt.Idx),
		Keyframe: pkt.IsKeyFrame,
		Payload:  pkt.Data,
	}, nil
}

func (s *avSource) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.demux.Close() })
	return err
}
