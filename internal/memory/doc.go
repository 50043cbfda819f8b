// Package memory keeps background image work inside the container's memory
// budget.
//
// Decoding large photos for thumbnails, fingerprints and tags allocates
// far more than the API itself. Go does not derive GOMEMLIMIT from cgroup
// limits, so [ConfigureFromEnv] sets it from MEMORY_LIMIT (typically the
// Kubernetes Downward API value) scaled by MEMORY_RATIO:
//
//	env:
//	  - name: MEMORY_LIMIT
//	    valueFrom:
//	      resourceFieldRef:
//	        resource: limits.memory
//
// An explicit GOMEMLIMIT always wins.
//
// # Backpressure
//
// A [Monitor] samples heap usage against the limit. Once usage reaches
// PauseAt it forces a GC and [Monitor.Wait] blocks until usage drops below
// ResumeAt. The job runner calls Wait before every item, so a pause delays
// items without failing jobs. Without a limit the monitor never pauses.
package memory
