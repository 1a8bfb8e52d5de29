package repack

import (
	"io"
	"time"

	"github.com/zsiec/tscast/internal/media"
	"github.com/zsiec/tscast/internal/mpegts"
)

// pesTimestampBase offsets output timestamps by one second so a DTS ahead
// of its PTS never goes negative.
const pesTimestampBase = mpegts.ClockRate

// firstPID is assigned to streams that arrive without a PID.
const firstPID = 0x100

// pesMuxer re-wraps elementary stream payloads read from MPEG-TS into PES
// packets on their original PIDs and stream types. Payloads are not
// parsed, so every stream type the source carried survives.
type pesMuxer struct {
	m    *mpegts.Muxer
	pids map[int]uint16
}

func newPESMuxer(w io.Writer, streams []media.StreamInfo) (*pesMuxer, error) {
	if len(streams) == 0 {
		return nil, errNoMuxableStreams
	}
	pm := &pesMuxer{
		m:    mpegts.NewMuxer(w),
		pids: make(map[int]uint16, len(streams)),
	}
	for _, s := range streams {
		pid := s.PID
		if pid == 0 {
			pid = firstPID + uint16(s.Index)
		}
		streamType := s.StreamType
		if streamType == 0 {
			streamType = mpegts.StreamTypePrivateData
		}
		if err := pm.m.AddStream(pid, streamType); err != nil {
			return nil, err
		}
		pm.pids[s.Index] = pid
	}
	if err := pm.m.WriteTables(); err != nil {
		return nil, err
	}
	return pm, nil
}

func (pm *pesMuxer) writePacket(pkt media.TimedPacket) error {
	pid, ok := pm.pids[pkt.StreamID]
	if !ok {
		return &MuxError{StreamID: pkt.StreamID, Err: ErrUnsupportedStream}
	}
	return pm.m.WriteUnit(&mpegts.Unit{
		PID:          pid,
		PTS:          durationToTicks(pkt.PTS) + pesTimestampBase,
		DTS:          durationToTicks(pkt.DTS) + pesTimestampBase,
		HasPTS:       true,
		HasDTS:       pkt.DTS != pkt.PTS,
		RandomAccess: pkt.Keyframe,
		Data:         pkt.Payload,
	})
}

// durationToTicks converts to the 90 kHz clock.
func durationToTicks(d time.Duration) int64 {
	return int64(d) * 9 / 100000
}
