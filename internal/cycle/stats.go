package cycle

import (
	"sync/atomic"

	"github.com/zsiec/tscast/internal/pacing"
	"github.com/zsiec/tscast/internal/relay"
	"github.com/zsiec/tscast/internal/repack"
	"github.com/zsiec/tscast/internal/sender"
)

// Stats is a point-in-time view of a controller's counters, summed over
// all cycles including the one in progress.
type Stats struct {
	State           string `json:"state"`
	Cycle           int    `json:"cycle"`
	CyclesCompleted int64  `json:"cyclesCompleted"`
	PacketsReleased int64  `json:"packetsReleased"`
	TimingAnomalies int64  `json:"timingAnomalies"`
	PacketErrors    int64  `json:"packetErrors"`
	MuxErrors       int64  `json:"muxErrors"`
	ChunksProduced  int64  `json:"chunksProduced"`
	ChunksDropped   int64  `json:"chunksDropped"`
	ChunksSent      int64  `json:"chunksSent"`
	BytesSent       int64  `json:"bytesSent"`
	QueueLen        int    `json:"queueLen"`
}

// pipeline holds the components of one cycle.
type pipeline struct {
	sched  *pacing.Scheduler
	rp     *repack.Repacketizer
	writer *repack.ChunkWriter
	q      *relay.Queue
	snd    *sender.Sender

	packetErrors atomic.Int64
}

func (p *pipeline) addTo(s *Stats) {
	rs := p.rp.Stats()
	s.PacketsReleased += p.sched.Released()
	s.TimingAnomalies += p.sched.Anomalies()
	s.PacketErrors += p.packetErrors.Load()
	s.MuxErrors += rs.MuxErrors
	s.ChunksProduced += rs.Chunks
	s.ChunksDropped += p.writer.Dropped()
	s.ChunksSent += p.snd.Chunks()
	s.BytesSent += p.snd.Bytes()
}
