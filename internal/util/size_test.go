package util

import (
	"errors"
	"testing"

	dyerrors "github.com/Iron-Ham/dysche/internal/errors"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"64M", 64 << 20, false},
		{"64m", 64 << 20, false},
		{"1G", 1 << 30, false},
		{"4k", 4 << 10, false},
		{"0x80000000", 0x80000000, false},
		{"0x10M", 0x10 << 20, false},
		{"0x1E", 0x1e, false},
		{"2E", 2 << 60, false},
		{"4096", 4096, false},
		{"0", 0, false},
		{"", 0, true},
		{"M", 0, true},
		{"12Q", 0, true},
		{"16E", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, dyerrors.ErrInvalidArgument) {
					t.Errorf("error should be invalid argument, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0"},
		{64 << 20, "64M"},
		{1 << 30, "1G"},
		{1536 << 10, "1536K"},
		{0x80000000, "2G"},
		{0x123, "0x123"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatSize(tt.in); got != tt.want {
				t.Errorf("FormatSize(%#x) = %q, want %q", tt.in, got, tt.want)
			}
			back, err := ParseSize(tt.want)
			if err != nil || back != tt.in {
				t.Errorf("ParseSize(FormatSize(%#x)) = %#x, %v", tt.in, back, err)
			}
		})
	}
}

func TestFormatRange(t *testing.T) {
	if got, want := FormatRange(64<<20, 0x80000000), "0x4000000@0x80000000"; got != want {
		t.Errorf("FormatRange() = %q, want %q", got, want)
	}
}
