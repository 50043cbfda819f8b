/*
Package filesystem wraps the file operations used on the photo library with
retry logic for NFS stale file handle errors, and provides the path and
content helpers the scanner and purge code share.

# Retry

StatWithRetry, OpenWithRetry, ReadDirWithRetry and RemoveWithRetry retry
ESTALE (errno 116) with exponential backoff. Other errors fail immediately.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Defaults are 3 retries, starting at 50ms and capped at 500ms. Metrics are
reported through an Observer registered with SetObserver, labeled with the
volume a VolumeResolver assigns to the path (library, thumbnails, downloads,
media).

# Path mapping

Image records may hold paths from the host that originally indexed them.
A PathMapper rewrites those prefixes to paths visible to this process,
from LIBRARY_HOST_PATH/LIBRARY_CONTAINER_PATH and an optional YAML file:

	mappings:
	  - from: /volume1/photos
	    to: /library

# Fingerprints

HashFile computes a chunked SHA-256 of a file. FingerprintFirst picks the
first readable candidate path and returns its size and hash, which is what
the purge blacklist stores.
*/
package filesystem
