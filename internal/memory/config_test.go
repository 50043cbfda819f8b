package memory

import (
	"runtime/debug"
	"testing"
)

func restoreLimit(t *testing.T) {
	t.Helper()
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
}

func TestConfigureFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		memLimit   string
		ratio      string
		wantSource string
		wantLimit  int64
		wantRatio  float64
	}{
		{"not set", "", "", SourceNone, 0, 0},
		{"invalid limit", "lots", "", SourceNone, 0, 0},
		{"default ratio", "1000000000", "", SourceMemoryLimit, 850000000, DefaultMemoryRatio},
		{"custom ratio", "1000000000", "0.5", SourceMemoryLimit, 500000000, 0.5},
		{"ratio out of range", "1000000000", "1.5", SourceMemoryLimit, 850000000, DefaultMemoryRatio},
		{"ratio not a number", "1000000000", "half", SourceMemoryLimit, 850000000, DefaultMemoryRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreLimit(t)
			t.Setenv("GOMEMLIMIT", "")
			t.Setenv("MEMORY_LIMIT", tt.memLimit)
			t.Setenv("MEMORY_RATIO", tt.ratio)

			got := ConfigureFromEnv()
			if got.Source != tt.wantSource || got.GoMemLimit != tt.wantLimit || got.Ratio != tt.wantRatio {
				t.Errorf("ConfigureFromEnv() = %+v", got)
			}
			if tt.wantLimit > 0 {
				if !got.Configured || debug.SetMemoryLimit(-1) != tt.wantLimit {
					t.Errorf("runtime limit = %d, want %d", debug.SetMemoryLimit(-1), tt.wantLimit)
				}
			}
		})
	}
}

func TestConfigureFromEnvGoMemLimitWins(t *testing.T) {
	restoreLimit(t)
	debug.SetMemoryLimit(256 << 20)
	t.Setenv("GOMEMLIMIT", "256MiB")
	t.Setenv("MEMORY_LIMIT", "1000000000")

	got := ConfigureFromEnv()
	if got.Source != SourceGoMemLimit || got.GoMemLimit != 256<<20 || !got.Configured {
		t.Errorf("ConfigureFromEnv() = %+v", got)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{256 << 20, "256.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
