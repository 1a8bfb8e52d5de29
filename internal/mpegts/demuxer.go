package mpegts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrSyncLost is returned when the demuxer cannot find a sync byte within
// its resync window. The stream is desynchronized and cannot continue.
var ErrSyncLost = errors.New("mpegts: lost packet sync")

// ErrNoProgram is returned by Probe when the stream ends before a PMT.
var ErrNoProgram = errors.New("mpegts: no program map found")

// UnitError reports a PES unit that could not be parsed. It affects only
// that unit; the next ReadUnit continues with the following one.
type UnitError struct {
	PID uint16
	Err error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("mpegts: PID 0x%04X: %v", e.PID, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// DemuxStats counts the problems the demuxer absorbed.
type DemuxStats struct {
	Packets      int64
	SkippedBytes int64
	Resyncs      int64
	PSIErrors    int64
	UnitErrors   int64
}

const defaultResyncWindow = 10 * PacketSize

// Demuxer reads transport stream packets from a reader and yields the PES
// units of the first program it discovers.
type Demuxer struct {
	r            io.Reader
	buf          []byte
	accs         *accumulators
	pmtPIDs      map[uint16]bool
	pmt          *ProgramMap
	pending      []*Unit
	eofUnits     []*Unit
	eof          bool
	resyncWindow int
	stats        DemuxStats
}

// NewDemuxer creates a Demuxer reading from r.
func NewDemuxer(r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		r:            r,
		buf:          make([]byte, PacketSize),
		pmtPIDs:      make(map[uint16]bool),
		resyncWindow: defaultResyncWindow,
	}
	d.accs = newAccumulators(func(pid uint16) bool {
		return pid == pidPAT || d.pmtPIDs[pid]
	})
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DemuxerOptResyncWindow sets how many bytes the demuxer may skip while
// looking for the next sync byte before giving up with ErrSyncLost.
func DemuxerOptResyncWindow(n int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.resyncWindow = n
	}
}

// ProgramMap returns the most recent PMT, or nil before the first one.
func (d *Demuxer) ProgramMap() *ProgramMap {
	return d.pmt
}

// Stats returns the demuxer counters.
func (d *Demuxer) Stats() DemuxStats {
	return d.stats
}

// Probe reads until the first PMT has been parsed. Units read on the way
// are kept for ReadUnit.
func (d *Demuxer) Probe(ctx context.Context) error {
	for d.pmt == nil {
		u, err := d.next(ctx)
		if err != nil {
			var ue *UnitError
			if errors.As(err, &ue) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return ErrNoProgram
			}
			return err
		}
		d.pending = append(d.pending, u)
	}
	return nil
}

// ReadUnit returns the next PES unit. It returns io.EOF at the end of the
// stream, a *UnitError for a unit that could not be parsed (the stream may
// continue), and ErrSyncLost or the reader's error when it cannot.
func (d *Demuxer) ReadUnit(ctx context.Context) (*Unit, error) {
	if len(d.pending) > 0 {
		u := d.pending[0]
		d.pending = d.pending[1:]
		return u, nil
	}
	return d.next(ctx)
}

func (d *Demuxer) next(ctx context.Context) (*Unit, error) {
	for {
		if d.eof {
			if len(d.eofUnits) > 0 {
				u := d.eofUnits[0]
				d.eofUnits = d.eofUnits[1:]
				return u, nil
			}
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.readPacket(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drain()
				continue
			}
			return nil, err
		}
		d.stats.Packets++

		pkt, err := parsePacket(d.buf)
		if err != nil || pkt.Header.PID == pidNull {
			continue
		}
		flushed := d.accs.add(pkt)
		if flushed == nil {
			continue
		}
		u, err := d.process(flushed)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return u, nil
		}
	}
}

// readPacket fills d.buf with the next packet, skipping garbage until a
// sync byte is found.
func (d *Demuxer) readPacket() error {
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return err
	}
	skipped := 0
	for d.buf[0] != syncByte {
		i := bytes.IndexByte(d.buf[1:], syncByte) + 1
		if i == 0 {
			i = PacketSize
		}
		skipped += i
		if skipped > d.resyncWindow {
			d.stats.SkippedBytes += int64(skipped)
			return ErrSyncLost
		}
		n := copy(d.buf, d.buf[i:])
		if _, err := io.ReadFull(d.r, d.buf[n:]); err != nil {
			return err
		}
	}
	if skipped > 0 {
		d.stats.SkippedBytes += int64(skipped)
		d.stats.Resyncs++
	}
	return nil
}

func (d *Demuxer) drain() {
	for _, packets := range d.accs.drain() {
		if u, err := d.process(packets); err == nil && u != nil {
			d.eofUnits = append(d.eofUnits, u)
		}
	}
}

func (d *Demuxer) process(packets []*Packet) (*Unit, error) {
	first := packets[0]
	pid := first.Header.PID
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return nil, nil
	}

	if pid == pidPAT || d.pmtPIDs[pid] {
		d.processPSI(pid, payload)
		return nil, nil
	}

	if d.pmt == nil {
		return nil, nil
	}
	es, ok := d.pmt.Stream(pid)
	if !ok {
		return nil, nil
	}

	u := &Unit{
		PID:          pid,
		StreamType:   es.StreamType,
		RandomAccess: first.Header.RandomAccessIndicator,
	}
	if err := parsePES(payload, u); err != nil {
		d.stats.UnitErrors++
		return nil, &UnitError{PID: pid, Err: err}
	}
	return u, nil
}

func (d *Demuxer) processPSI(pid uint16, payload []byte) {
	sections, err := splitSections(payload)
	if err != nil {
		d.stats.PSIErrors++
		return
	}
	for _, s := range sections {
		switch s[0] {
		case tableIDPAT:
			programs, err := parsePAT(s)
			if err != nil {
				d.stats.PSIErrors++
				continue
			}
			for _, p := range programs {
				d.pmtPIDs[p.PMTPID] = true
			}
		case tableIDPMT:
			pm, err := parsePMT(s)
			if err != nil {
				d.stats.PSIErrors++
				continue
			}
			if d.pmt == nil || d.pmt.ProgramNumber == pm.ProgramNumber {
				d.pmt = pm
			}
		}
	}
}
