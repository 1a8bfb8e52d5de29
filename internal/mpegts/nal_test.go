package mpegts

import "testing"

func TestIsRandomAccess(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		streamType uint8
		data       []byte
		want       bool
	}{
		{"h264_idr_after_sps", StreamTypeH264, []byte{
			0, 0, 0, 1, 0x09, 0xF0, // AUD
			0, 0, 0, 1, 0x67, 0x42, 0x00, // SPS
			0, 0, 1, 0x68, 0xCE, // PPS
			0, 0, 1, 0x65, 0x88, 0x84, // IDR
		}, true},
		{"h264_non_idr", StreamTypeH264, []byte{0, 0, 0, 1, 0x09, 0xF0, 0, 0, 1, 0x41, 0x9A}, false},
		{"h264_truncated_start_code", StreamTypeH264, []byte{0xAA, 0, 0, 1}, false},
		{"h265_idr_w_radl", StreamTypeH265, []byte{
			0, 0, 0, 1, 0x40, 0x01, 0xAA, // VPS
			0, 0, 0, 1, 0x26, 0x01, 0xFF, // IDR_W_RADL
		}, true},
		{"h265_cra", StreamTypeH265, []byte{0, 0, 1, 0x2A, 0x01, 0x10}, true},
		{"h265_trail", StreamTypeH265, []byte{0, 0, 1, 0x02, 0x01, 0x10}, false},
		{"h265_short_header", StreamTypeH265, []byte{0, 0, 1, 0x26}, false},
		{"audio_ignored", StreamTypeAAC, []byte{0, 0, 1, 0x65}, false},
		{"empty", StreamTypeH264, nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRandomAccess(tc.streamType, tc.data); got != tc.want {
				t.Errorf("IsRandomAccess = %v, want %v", got, tc.want)
			}
		})
	}
}
