package mpegts

import (
	"errors"
	"fmt"
	"io"
)

// ErrUnknownPID is returned by WriteUnit for a PID that was not added.
var ErrUnknownPID = errors.New("mpegts: unknown PID")

const (
	defaultPMTPID      = 0x1000
	defaultProgram     = 1
	defaultTSID        = 1
	defaultPSIInterval = 40
)

type muxStream struct {
	es       ElementaryStream
	streamID uint8
	cc       uint8
}

// Muxer packetizes PES units into a transport stream. PAT and PMT are
// written before the first unit, before every random access unit and
// every PSI interval units in between. The PCR rides on the first packet
// of every unit of the PCR PID.
type Muxer struct {
	w           io.Writer
	pmt         ProgramMap
	pmtPID      uint16
	streams     map[uint16]*muxStream
	patCC       uint8
	pmtCC       uint8
	psiInterval int
	sincePSI    int
	wroteTables bool

	pkt [PacketSize]byte
	af  []byte
	pes []byte
}

// NewMuxer creates a Muxer writing to w.
func NewMuxer(w io.Writer, opts ...func(*Muxer)) *Muxer {
	m := &Muxer{
		w:           w,
		pmt:         ProgramMap{ProgramNumber: defaultProgram},
		pmtPID:      defaultPMTPID,
		streams:     make(map[uint16]*muxStream),
		psiInterval: defaultPSIInterval,
		af:          make([]byte, 0, PacketSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MuxerOptPSIInterval sets how many units may pass between PAT/PMT
// repetitions.
func MuxerOptPSIInterval(n int) func(*Muxer) {
	return func(m *Muxer) {
		m.psiInterval = n
	}
}

// MuxerOptPMTPID sets the PID carrying the PMT.
func MuxerOptPMTPID(pid uint16) func(*Muxer) {
	return func(m *Muxer) {
		m.pmtPID = pid
	}
}

// AddStream registers an elementary stream. The first video stream, or the
// first stream when there is no video, carries the PCR.
func (m *Muxer) AddStream(pid uint16, streamType uint8) error {
	if pid == pidPAT || pid == m.pmtPID || pid >= pidNull {
		return fmt.Errorf("mpegts: PID 0x%04X is reserved", pid)
	}
	if _, ok := m.streams[pid]; ok {
		return fmt.Errorf("mpegts: PID 0x%04X already added", pid)
	}
	es := ElementaryStream{PID: pid, StreamType: streamType}
	m.streams[pid] = &muxStream{es: es, streamID: streamIDFor(streamType)}
	m.pmt.Streams = append(m.pmt.Streams, es)

	pcr, hasPCR := m.streams[m.pmt.PCRPID]
	if !hasPCR || IsVideo(streamType) && !IsVideo(pcr.es.StreamType) {
		m.pmt.PCRPID = pid
	}
	m.wroteTables = false
	return nil
}

// WriteTables writes PAT and PMT.
func (m *Muxer) WriteTables() error {
	pat := buildPAT(defaultTSID, []Program{{Number: m.pmt.ProgramNumber, PMTPID: m.pmtPID}})
	if err := m.writeSection(pidPAT, &m.patCC, pat); err != nil {
		return err
	}
	if err := m.writeSection(m.pmtPID, &m.pmtCC, buildPMT(&m.pmt)); err != nil {
		return err
	}
	m.wroteTables = true
	m.sincePSI = 0
	return nil
}

// WriteUnit packetizes u on its PID. StreamType and StreamID of u are
// ignored; the registered stream decides them.
func (m *Muxer) WriteUnit(u *Unit) error {
	s, ok := m.streams[u.PID]
	if !ok {
		return fmt.Errorf("%w 0x%04X", ErrUnknownPID, u.PID)
	}

	if !m.wroteTables || u.RandomAccess || m.sincePSI >= m.psiInterval {
		if err := m.WriteTables(); err != nil {
			return err
		}
	}
	m.sincePSI++

	hdr := *u
	hdr.StreamID = s.streamID
	m.pes = appendPESHeader(m.pes[:0], &hdr)
	m.pes = append(m.pes, u.Data...)

	pcr := int64(-1)
	if u.PID == m.pmt.PCRPID {
		switch {
		case u.HasDTS:
			pcr = u.DTS
		case u.HasPTS:
			pcr = u.PTS
		}
	}

	payload := m.pes
	first := true
	for len(payload) > 0 {
		n, err := m.writePacket(u.PID, &s.cc, first, pcr, first && u.RandomAccess, payload)
		if err != nil {
			return err
		}
		payload = payload[n:]
		first, pcr = false, -1
	}
	return nil
}

// writeSection writes one PSI section in a single packet, padded with
// 0xFF stuffing.
func (m *Muxer) writeSection(pid uint16, cc *uint8, section []byte) error {
	if 1+len(section) > PacketSize-4 {
		return fmt.Errorf("mpegts: PSI section of %d bytes does not fit a packet", len(section))
	}
	b := m.pkt[:]
	b[0] = syncByte
	b[1] = 0x40 | byte(pid>>8)&0x1F
	b[2] = byte(pid)
	b[3] = 0x10 | *cc&0x0F
	*cc = (*cc + 1) & 0x0F
	b[4] = 0x00 // pointer field
	n := copy(b[5:], section)
	for i := 5 + n; i < PacketSize; i++ {
		b[i] = 0xFF
	}
	_, err := m.w.Write(b)
	return err
}

// writePacket writes one packet carrying as much of payload as fits and
// returns the number of payload bytes consumed. The last packet of a unit
// is filled out with adaptation field stuffing.
func (m *Muxer) writePacket(pid uint16, cc *uint8, start bool, pcr int64, randomAccess bool, payload []byte) (int, error) {
	af := m.af[:0]
	hasAF := pcr >= 0 || randomAccess
	if hasAF {
		flags := byte(0)
		if randomAccess {
			flags |= 0x40
		}
		if pcr >= 0 {
			flags |= 0x10
		}
		af = append(af, flags)
		if pcr >= 0 {
			af = appendPCR(af, pcr)
		}
	}

	space := PacketSize - 4
	if hasAF {
		space -= 1 + len(af)
	}
	n := len(payload)
	if n > space {
		n = space
	}

	if stuff := space - n; stuff > 0 {
		if !hasAF {
			// The adaptation_field_length byte itself takes one byte; a
			// flags byte takes the next.
			hasAF = true
			stuff--
			if stuff > 0 {
				af = append(af, 0x00)
				stuff--
			}
		}
		for ; stuff > 0; stuff-- {
			af = append(af, 0xFF)
		}
	}

	b := m.pkt[:]
	b[0] = syncByte
	b[1] = byte(pid>>8) & 0x1F
	if start {
		b[1] |= 0x40
	}
	b[2] = byte(pid)
	b[3] = 0x10 | *cc&0x0F
	*cc = (*cc + 1) & 0x0F

	offset := 4
	if hasAF {
		b[3] |= 0x20
		b[4] = byte(len(af))
		copy(b[5:], af)
		offset = 5 + len(af)
	}
	copy(b[offset:], payload[:n])
	m.af = af

	if _, err := m.w.Write(b); err != nil {
		return 0, err
	}
	return n, nil
}
