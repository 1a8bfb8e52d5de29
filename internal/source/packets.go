package source

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/zsiec/tscast/internal/media"
)

// Packets is an in-memory Source that replays a fixed packet list.
type Packets struct {
	StreamList []media.StreamInfo
	List       []media.TimedPacket
	IsLive     bool

	next   int
	closed atomic.Bool
}

// NewPackets returns a Source over pkts.
func NewPackets(streams []media.StreamInfo, pkts []media.TimedPacket) *Packets {
	return &Packets{StreamList: streams, List: pkts}
}

func (p *Packets) Streams() []media.StreamInfo { return p.StreamList }

func (p *Packets) Live() bool { return p.IsLive }

func (p *Packets) ReadPacket(ctx context.Context) (media.TimedPacket, error) {
	if err := ctx.Err(); err != nil {
		return media.TimedPacket{}, err
	}
	if p.closed.Load() || p.next >= len(p.List) {
		return media.TimedPacket{}, io.EOF
	}
	pkt := p.List[p.next]
	p.next++
	return pkt, nil
}

// Close marks the source exhausted.
func (p *Packets) Close() error {
	p.closed.Store(true)
	return nil
}
