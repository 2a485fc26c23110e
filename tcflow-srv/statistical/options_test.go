package statistical

import "testing"

func TestParseWindowScale(t *testing.T) {
	tests := []struct {
		name    string
		options []byte
		want    uint8
	}{
		{
			name:    "empty options",
			options: nil,
			want:    0,
		},
		{
			name:    "window scale only",
			options: []byte{0x03, 0x03, 0x07},
			want:    7,
		},
		{
			name:    "typical syn options",
			options: []byte{0x02, 0x04, 0x05, 0xb4, 0x04, 0x02, 0x08, 0x0a, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x01, 0x03, 0x03, 0x09},
			want:    9,
		},
		{
			name:    "nop padding before scale",
			options: []byte{0x01, 0x01, 0x03, 0x03, 0x02},
			want:    2,
		},
		{
			name:    "no window scale present",
			options: []byte{0x02, 0x04, 0x05, 0xb4, 0x01, 0x01},
			want:    0,
		},
		{
			name:    "truncated window scale option",
			options: []byte{0x01, 0x03, 0x03},
			want:    0,
		},
		{
			name:    "malformed length byte",
			options: []byte{0x02, 0x01, 0x03, 0x03, 0x05},
			want:    0,
		},
		{
			name:    "end of options before scale",
			options: []byte{0x00, 0x03, 0x03, 0x06},
			want:    6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseWindowScale(tt.options); got != tt.want {
				t.Errorf("parseWindowScale(%v) = %d, want %d", tt.options, got, tt.want)
			}
		})
	}
}
