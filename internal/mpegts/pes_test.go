package mpegts

import (
	"bytes"
	"testing"
)

func TestTimestamp_RoundTrip(t *testing.T) {
	t.Parallel()
	for _, ts := range []int64{0, 1, 90000, 1 << 32, MaxTimestamp} {
		b := appendTimestamp(nil, 0x02, ts)
		if got := decodeTimestamp(b); got != ts {
			t.Errorf("decodeTimestamp(appendTimestamp(%d)) = %d", ts, got)
		}
		// Marker bits are always set.
		if b[0]&0x01 == 0 || b[2]&0x01 == 0 || b[4]&0x01 == 0 {
			t.Errorf("marker bits missing for %d: % X", ts, b)
		}
		if b[0]>>4 != 0x02 {
			t.Errorf("prefix = %X, want 2", b[0]>>4)
		}
	}
}

func TestTimestamp_Wraps33Bits(t *testing.T) {
	t.Parallel()
	b := appendTimestamp(nil, 0x02, MaxTimestamp+10)
	if got := decodeTimestamp(b); got != 9 {
		t.Errorf("decodeTimestamp = %d, want 9", got)
	}
}

func TestPES_HeaderParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Unit
	}{
		{"video_pts", Unit{StreamID: streamIDVideo, PTS: 90000, HasPTS: true, Data: []byte{0, 0, 0, 1, 0x65}}},
		{"video_pts_dts", Unit{StreamID: streamIDVideo, PTS: 93003, DTS: 90000, HasPTS: true, HasDTS: true, Data: []byte{0, 0, 1, 0x41}}},
		{"audio_pts", Unit{StreamID: streamIDAudio, PTS: 12345, HasPTS: true, Data: []byte{0xFF, 0xF1, 0x50}}},
		{"no_timestamps", Unit{StreamID: streamIDPrivate1, Data: []byte{0x0B, 0x77}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := appendPESHeader(nil, &tc.in)
			payload = append(payload, tc.in.Data...)

			var got Unit
			if err := parsePES(payload, &got); err != nil {
				t.Fatal(err)
			}
			if got.StreamID != tc.in.StreamID {
				t.Errorf("StreamID = 0x%X, want 0x%X", got.StreamID, tc.in.StreamID)
			}
			if got.HasPTS != tc.in.HasPTS || got.PTS != tc.in.PTS {
				t.Errorf("PTS = %d/%v, want %d/%v", got.PTS, got.HasPTS, tc.in.PTS, tc.in.HasPTS)
			}
			if got.HasDTS != tc.in.HasDTS || got.DTS != tc.in.DTS {
				t.Errorf("DTS = %d/%v, want %d/%v", got.DTS, got.HasDTS, tc.in.DTS, tc.in.HasDTS)
			}
			if !bytes.Equal(got.Data, tc.in.Data) {
				t.Errorf("Data = % X, want % X", got.Data, tc.in.Data)
			}
		})
	}
}

func TestPES_EqualDTSOmitted(t *testing.T) {
	t.Parallel()
	u := &Unit{StreamID: streamIDVideo, PTS: 100, DTS: 100, HasPTS: true, HasDTS: true}
	hdr := appendPESHeader(nil, u)
	if hdr[7] != 0x80 {
		t.Errorf("PTS_DTS flags = 0x%X, want 0x80", hdr[7])
	}
	if len(hdr) != 14 {
		t.Errorf("header length = %d, want 14", len(hdr))
	}
}

func TestPES_LengthField(t *testing.T) {
	t.Parallel()
	audio := appendPESHeader(nil, &Unit{StreamID: streamIDAudio, Data: make([]byte, 100)})
	if got := int(audio[4])<<8 | int(audio[5]); got != 3+100 {
		t.Errorf("audio PES length = %d, want 103", got)
	}
	video := appendPESHeader(nil, &Unit{StreamID: streamIDVideo, Data: make([]byte, 100)})
	if video[4] != 0 || video[5] != 0 {
		t.Error("video PES length should be 0")
	}
	big := appendPESHeader(nil, &Unit{StreamID: streamIDAudio, Data: make([]byte, 70000)})
	if big[4] != 0 || big[5] != 0 {
		t.Error("oversized PES length should be 0")
	}
}

func TestPES_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
	}{
		{"short", []byte{0, 0, 1}},
		{"bad_start_code", []byte{0, 0, 2, 0xE0, 0, 0, 0x80, 0, 0}},
		{"header_overflow", []byte{0, 0, 1, 0xE0, 0, 0, 0x80, 0x80, 0x20, 0x21}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var u Unit
			if err := parsePES(tc.payload, &u); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStreamIDFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		streamType uint8
		want       uint8
	}{
		{StreamTypeH264, streamIDVideo},
		{StreamTypeH265, streamIDVideo},
		{StreamTypeAAC, streamIDAudio},
		{StreamTypeAC3, streamIDPrivate1},
		{StreamTypeSCTE35, streamIDPrivate1},
	}
	for _, tc := range tests {
		if got := streamIDFor(tc.streamType); got != tc.want {
			t.Errorf("streamIDFor(0x%X) = 0x%X, want 0x%X", tc.streamType, got, tc.want)
		}
	}
}
