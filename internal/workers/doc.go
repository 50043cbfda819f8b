/*
Package workers sizes the worker pools of the library: the background job
runner, the offline fingerprint command and the directory walker.

Each [Profile] scales with GOMAXPROCS, which Go sets from the container CPU
limit, and may be pinned through its environment variable:

	JOB_WORKERS    job runner pool (1.5 per CPU, at most 4)
	PHASH_WORKERS  photo-library phash (1 per CPU, at most 16)
	INDEX_WORKERS  directory walk during indexing (at most 3)
*/
package workers
