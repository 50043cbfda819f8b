package workers

import (
	"runtime"
	"testing"
)

func TestProfileSize(t *testing.T) {
	procs := runtime.GOMAXPROCS(0)

	tests := []struct {
		name     string
		profile  Profile
		override string
		want     int
	}{
		{"per cpu", Profile{Env: "TEST_WORKERS", PerCPU: 1}, "", procs},
		{"capped", Profile{Env: "TEST_WORKERS", PerCPU: 100, Max: 2}, "", 2},
		{"floors at one", Profile{Env: "TEST_WORKERS", PerCPU: 0.0001}, "", 1},
		{"override", Profile{Env: "TEST_WORKERS", PerCPU: 1}, "7", 7},
		{"override capped", Profile{Env: "TEST_WORKERS", PerCPU: 1, Max: 4}, "12", 4},
		{"invalid override ignored", Profile{Env: "TEST_WORKERS", PerCPU: 0.0001}, "lots", 1},
		{"zero override ignored", Profile{Env: "TEST_WORKERS", PerCPU: 0.0001}, "0", 1},
		{"no env", Profile{PerCPU: 0.0001, Max: 3}, "9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_WORKERS", tt.override)
			if got := tt.profile.Size(); got != tt.want {
				t.Errorf("Size() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuiltinProfilesBounded(t *testing.T) {
	for _, p := range []Profile{Jobs, Hashing, Walk} {
		t.Setenv(p.Env, "")
		if got := p.Size(); got < 1 || got > p.Max {
			t.Errorf("%s: Size() = %d, want 1..%d", p.Env, got, p.Max)
		}
	}
	t.Setenv(Jobs.Env, "2")
	if got := ForJobs(); got != 2 {
		t.Errorf("ForJobs() = %d, want 2", got)
	}
}
