package mpegts

import (
	"testing"
)

func mustParse(t *testing.T, buf []byte) *Packet {
	t.Helper()
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAccumulator_PUSIFlush(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100}

	if got := a.add(mustParse(t, makePacket(0x100, 0, true, []byte{1}))); got != nil {
		t.Fatal("first packet should not flush")
	}
	if got := a.add(mustParse(t, makePacket(0x100, 1, false, []byte{2}))); got != nil {
		t.Fatal("continuation should not flush")
	}
	got := a.add(mustParse(t, makePacket(0x100, 2, true, []byte{3})))
	if len(got) != 2 {
		t.Fatalf("flushed %d packets, want 2", len(got))
	}
	if got[0].Payload[0] != 1 || got[1].Payload[0] != 2 {
		t.Error("flushed packets out of order")
	}
	if rest := a.flush(); len(rest) != 1 || rest[0].Payload[0] != 3 {
		t.Errorf("flush returned %d packets, want the new unit start", len(rest))
	}
}

func TestAccumulator_CCDiscontinuityDropsUnit(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100}
	a.add(mustParse(t, makePacket(0x100, 0, true, []byte{1})))
	a.add(mustParse(t, makePacket(0x100, 1, false, []byte{2})))
	// CC jumps from 1 to 5: the partial unit is gone and the continuation
	// has nothing to attach to.
	a.add(mustParse(t, makePacket(0x100, 5, false, []byte{3})))
	if n := len(a.packets); n != 0 {
		t.Fatalf("buffered %d packets after discontinuity, want 0", n)
	}
	a.add(mustParse(t, makePacket(0x100, 6, true, []byte{4})))
	if got := a.flush(); len(got) != 1 || got[0].Payload[0] != 4 {
		t.Error("accumulator should restart at the next unit start")
	}
}

func TestAccumulator_DuplicateFilter(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100}
	a.add(mustParse(t, makePacket(0x100, 3, true, []byte{1})))
	a.add(mustParse(t, makePacket(0x100, 3, true, []byte{1})))
	if n := len(a.packets); n != 1 {
		t.Errorf("buffered %d packets, want 1 (duplicate dropped)", n)
	}
}

func TestAccumulator_TEIDiscard(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100}
	a.add(mustParse(t, makePacket(0x100, 0, true, []byte{1})))
	bad := makePacket(0x100, 1, false, []byte{2})
	bad[1] |= 0x80
	a.add(mustParse(t, bad))
	if n := len(a.packets); n != 0 {
		t.Errorf("buffered %d packets after TEI, want 0", n)
	}
}

func TestAccumulator_AdaptationOnlySkipped(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100}
	a.add(mustParse(t, makePacket(0x100, 0, true, []byte{1})))
	a.add(mustParse(t, makePacketWithAF(0x100, 0, 183, 0, nil)))
	if n := len(a.packets); n != 1 {
		t.Errorf("buffered %d packets, want 1", n)
	}
}

func TestAccumulator_CCWraparound(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100}
	a.add(mustParse(t, makePacket(0x100, 15, true, []byte{1})))
	a.add(mustParse(t, makePacket(0x100, 0, false, []byte{2})))
	if n := len(a.packets); n != 2 {
		t.Errorf("buffered %d packets, want 2 across CC wrap", n)
	}
}

func TestAccumulator_DiscontinuityIndicator(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100}
	a.add(mustParse(t, makePacket(0x100, 0, true, []byte{1})))
	a.add(mustParse(t, makePacketWithAF(0x100, 9, 1, 0x80, []byte{2})))
	if n := len(a.packets); n != 2 {
		t.Errorf("buffered %d packets, want 2 with signalled discontinuity", n)
	}
}

func TestAccumulator_PSICompleteFlushes(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: pidPAT, psi: true}
	pat := buildPAT(1, []Program{{Number: 1, PMTPID: 0x1000}})
	got := a.add(mustParse(t, makePacket(pidPAT, 0, true, psiPayload(pat))))
	if len(got) != 1 {
		t.Fatalf("complete PAT should flush immediately, got %d packets", len(got))
	}
}

func TestPSIComplete(t *testing.T) {
	t.Parallel()
	pmt := buildPMT(&ProgramMap{
		ProgramNumber: 1,
		PCRPID:        0x100,
		Streams:       []ElementaryStream{{PID: 0x100, StreamType: StreamTypeH264}},
	})

	whole := &Packet{Payload: psiPayload(pmt)}
	if !psiComplete([]*Packet{whole}) {
		t.Error("whole section should be complete")
	}
	partial := &Packet{Payload: psiPayload(pmt)[:10]}
	if psiComplete([]*Packet{partial}) {
		t.Error("partial section should be incomplete")
	}
	padded := &Packet{Payload: append(psiPayload(pmt), 0xFF, 0xFF)}
	if !psiComplete([]*Packet{padded}) {
		t.Error("section with stuffing should be complete")
	}
	split := psiPayload(pmt)
	if !psiComplete([]*Packet{{Payload: split[:8]}, {Payload: split[8:]}}) {
		t.Error("section split across packets should be complete")
	}
}

func TestAccumulators_DrainOrder(t *testing.T) {
	t.Parallel()
	as := newAccumulators(func(uint16) bool { return false })
	as.add(mustParse(t, makePacket(0x200, 0, true, []byte{2})))
	as.add(mustParse(t, makePacket(0x100, 0, true, []byte{1})))

	out := as.drain()
	if len(out) != 2 {
		t.Fatalf("drained %d units, want 2", len(out))
	}
	if out[0][0].Header.PID != 0x100 || out[1][0].Header.PID != 0x200 {
		t.Error("drain should return PIDs in ascending order")
	}
	if again := as.drain(); len(again) != 0 {
		t.Errorf("second drain returned %d units", len(again))
	}
}
