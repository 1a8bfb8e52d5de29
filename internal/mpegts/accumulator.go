package mpegts

import "sort"

// accumulator buffers the packets of one PID until a unit is complete: a
// new payload_unit_start for PES, or a complete section for PSI.
type accumulator struct {
	pid     uint16
	psi     bool
	packets []*Packet
}

func (a *accumulator) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		a.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	// A continuity jump that is not signalled drops the partial unit; a
	// repeated counter is a duplicate packet.
	if n := len(a.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := a.packets[n-1].Header.ContinuityCounter
		if p.Header.ContinuityCounter != (prev+1)&0x0F {
			if p.Header.ContinuityCounter == prev {
				return nil
			}
			a.packets = nil
		}
	}

	// Continuation packets without a unit start have nothing to attach to.
	if len(a.packets) == 0 && !p.Header.PayloadUnitStartIndicator {
		return nil
	}

	var flushed []*Packet
	if p.Header.PayloadUnitStartIndicator && len(a.packets) > 0 {
		flushed = a.packets
		a.packets = nil
	}
	a.packets = append(a.packets, p)

	if flushed == nil && a.psi && psiComplete(a.packets) {
		flushed = a.packets
		a.packets = nil
	}
	return flushed
}

func (a *accumulator) flush() []*Packet {
	flushed := a.packets
	a.packets = nil
	return flushed
}

// psiComplete reports whether the buffered payloads hold every section
// they start.
func psiComplete(packets []*Packet) bool {
	payload := joinPayloads(packets)
	if len(payload) < 1 {
		return false
	}
	offset := 1 + int(payload[0])
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true
		}
		if offset+3 > len(payload) {
			return false
		}
		if payload[offset+1]&0x80 == 0 {
			return true
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		if offset+3+sectionLength > len(payload) {
			return false
		}
		offset += 3 + sectionLength
	}
	return offset == len(payload)
}

func joinPayloads(packets []*Packet) []byte {
	n := 0
	for _, p := range packets {
		n += len(p.Payload)
	}
	out := make([]byte, 0, n)
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// accumulators holds one accumulator per PID.
type accumulators struct {
	byPID map[uint16]*accumulator
	isPSI func(pid uint16) bool
}

func newAccumulators(isPSI func(pid uint16) bool) *accumulators {
	return &accumulators{
		byPID: make(map[uint16]*accumulator),
		isPSI: isPSI,
	}
}

func (as *accumulators) add(p *Packet) []*Packet {
	a, ok := as.byPID[p.Header.PID]
	if !ok {
		a = &accumulator{pid: p.Header.PID}
		as.byPID[p.Header.PID] = a
	}
	a.psi = as.isPSI(p.Header.PID)
	return a.add(p)
}

// drain flushes every PID in ascending order, so PAT comes before PMT.
func (as *accumulators) drain() [][]*Packet {
	pids := make([]int, 0, len(as.byPID))
	for pid := range as.byPID {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var out [][]*Packet
	for _, pid := range pids {
		if packets := as.byPID[uint16(pid)].flush(); len(packets) > 0 {
			out = append(out, packets)
		}
	}
	return out
}
