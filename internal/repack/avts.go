package repack

import (
	"errors"
	"io"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/ts"

	"github.com/zsiec/tscast/internal/media"
)

// ErrUnsupportedStream is wrapped by MuxError for packets of a stream the
// muxer did not take on.
var ErrUnsupportedStream = errors.New("repack: stream not supported by muxer")

// errNoMuxableStreams fails muxer initialization.
var errNoMuxableStreams = errors.New("no stream the muxer supports")

// avtsMuxer remuxes joy4 packets into MPEG-TS with joy4's muxer, which
// converts AVCC H.264 to Annex B with SPS/PPS on keyframes and frames AAC
// in ADTS. Streams of other codecs are left out of the program.
type avtsMuxer struct {
	m     *ts.Muxer
	idx   map[int]int8
	video map[int]bool
}

func newAVTSMuxer(w io.Writer, streams []media.StreamInfo) (*avtsMuxer, error) {
	am := &avtsMuxer{
		m:     ts.NewMuxer(w),
		idx:   make(map[int]int8),
		video: make(map[int]bool),
	}
	var codecs []av.CodecData
	for _, s := range streams {
		if s.Codec == nil || !avtsSupported(s.Codec.Type()) {
			continue
		}
		am.idx[s.Index] = int8(len(codecs))
		am.video[s.Index] = s.Codec.Type().IsVideo()
		codecs = append(codecs, s.Codec)
	}
	if len(codecs) == 0 {
		return nil, errNoMuxableStreams
	}
	if err := am.m.WriteHeader(codecs); err != nil {
		return nil, err
	}
	return am, nil
}

func avtsSupported(t av.CodecType) bool {
	for _, c := range ts.CodecTypes {
		if c == t {
			return true
		}
	}
	return false
}

func (am *avtsMuxer) writePacket(pkt media.TimedPacket) error {
	i, ok := am.idx[pkt.StreamID]
	if !ok {
		return &MuxError{StreamID: pkt.StreamID, Err: ErrUnsupportedStream}
	}
	// Repeat PAT/PMT at every video keyframe so a peer joining mid-stream
	// can start decoding there.
	if pkt.Keyframe && am.video[pkt.StreamID] {
		if err := am.m.WritePATPMT(); err != nil {
			return err
		}
	}
	return am.m.WritePacket(av.Packet{
		Idx:             i,
		IsKeyFrame:      pkt.Keyframe,
		Time:            pkt.DTS,
		CompositionTime: pkt.PTS - pkt.DTS,
		Data:            pkt.Payload,
	})
}
