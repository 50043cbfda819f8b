/*
Package streaming sends finished export archives to HTTP clients without
letting a slow or vanished client hold a handler goroutine indefinitely.

[Writer] wraps an http.ResponseWriter. Each write is bounded by
WriteTimeout, the gap between successful writes by IdleTimeout, and large
writes are split into ChunkSize pieces that are flushed one by one.
Cancelling the request context ends the copy with [ErrClientGone].

[ServeAttachment] is the entry point used by the download endpoint:

	err := streaming.ServeAttachment(w, r, path, name, "application/zip", streaming.DefaultConfig())
	if err != nil {
		logging.Warn("%v", err)
	}
*/
package streaming
