package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Profile describes how one kind of work scales with the CPUs granted to
// the process.
type Profile struct {
	// Env names a variable that pins the size. It is still capped by Max.
	Env string
	// PerCPU is the number of workers per GOMAXPROCS slot.
	PerCPU float64
	// Max caps the size. 0 means no cap.
	Max int
}

var (
	// Jobs sizes the background job runner. Each worker owns a whole job,
	// so a handful is enough.
	Jobs = Profile{Env: "JOB_WORKERS", PerCPU: 1.5, Max: 4}
	// Hashing sizes fingerprint jobs, which decode images and are CPU
	// bound.
	Hashing = Profile{Env: "PHASH_WORKERS", PerCPU: 1, Max: 16}
	// Walk sizes the directory walker. Libraries often live on NFS, where
	// more than a few concurrent stat calls only add latency.
	Walk = Profile{Env: "INDEX_WORKERS", PerCPU: 1, Max: 3}
)

// Size returns the worker count for p.
func (p Profile) Size() int {
	if p.Env != "" {
		if n, err := strconv.Atoi(os.Getenv(p.Env)); err == nil && n > 0 {
			return p.clamp(n)
		}
	}
	// GOMAXPROCS follows the container CPU limit; NumCPU reports the host.
	return p.clamp(int(float64(runtime.GOMAXPROCS(0)) * p.PerCPU))
}

func (p Profile) clamp(n int) int {
	n = max(n, 1)
	if p.Max > 0 {
		n = min(n, p.Max)
	}
	return n
}

// ForJobs returns the job runner pool size.
func ForJobs() int { return Jobs.Size() }
