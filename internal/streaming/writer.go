package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/esprusso/photo-library/internal/logging"
)

var (
	// ErrWriteTimeout means a single write blocked longer than WriteTimeout.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrIdle means no bytes reached the client for IdleTimeout.
	ErrIdle = errors.New("stream idle timeout exceeded")

	// ErrClientGone means the request context ended before the copy finished.
	ErrClientGone = errors.New("client disconnected")
)

// Config bounds how long a download may stall.
type Config struct {
	// WriteTimeout bounds each write to the client.
	WriteTimeout time.Duration
	// IdleTimeout bounds the gap between successful writes. 0 disables it.
	IdleTimeout time.Duration
	// ChunkSize splits large writes and flushes after each chunk. 0 writes
	// as received.
	ChunkSize int
}

// DefaultConfig returns the limits used for archive downloads.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// Writer wraps an http.ResponseWriter so a stalled client cannot pin a
// handler goroutine forever.
type Writer struct {
	w       http.ResponseWriter
	ctx     context.Context
	cancel  context.CancelCauseFunc
	config  Config
	flusher http.Flusher
	start   time.Time

	mu        sync.Mutex
	lastWrite time.Time
	written   int64
	closed    bool
}

// NewWriter starts the idle checker. Close must be called when done.
func NewWriter(ctx context.Context, w http.ResponseWriter, config Config) *Writer {
	wctx, cancel := context.WithCancelCause(ctx)
	now := time.Now()
	sw := &Writer{
		w:         w,
		ctx:       wctx,
		cancel:    cancel,
		config:    config,
		start:     now,
		lastWrite: now,
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	if config.IdleTimeout > 0 {
		go sw.idleChecker()
	}
	return sw
}

// Write implements io.Writer.
func (sw *Writer) Write(p []byte) (int, error) {
	if err := sw.err(); err != nil {
		return 0, err
	}
	size := sw.config.ChunkSize
	if size <= 0 || len(p) <= size {
		return sw.writeWithTimeout(p)
	}

	total := 0
	for len(p) > 0 {
		if err := sw.err(); err != nil {
			return total, err
		}
		n, err := sw.writeWithTimeout(p[:min(size, len(p))])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
		if sw.flusher != nil {
			sw.flusher.Flush()
		}
	}
	return total, nil
}

func (sw *Writer) writeWithTimeout(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := sw.w.Write(p)
		done <- result{n, err}
	}()

	timer := time.NewTimer(sw.config.WriteTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.n > 0 {
			sw.mu.Lock()
			sw.lastWrite = time.Now()
			sw.written += int64(res.n)
			sw.mu.Unlock()
		}
		return res.n, res.err
	case <-timer.C:
		sw.cancel(ErrWriteTimeout)
		return 0, ErrWriteTimeout
	case <-sw.ctx.Done():
		return 0, sw.err()
	}
}

func (sw *Writer) idleChecker() {
	ticker := time.NewTicker(sw.config.IdleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sw.mu.Lock()
			idle := time.Since(sw.lastWrite)
			sw.mu.Unlock()
			if idle > sw.config.IdleTimeout {
				logging.Warn("Download idle for %v, aborting", idle.Round(time.Second))
				sw.cancel(ErrIdle)
				return
			}
		case <-sw.ctx.Done():
			return
		}
	}
}

// err maps the writer context state to one of the package errors.
func (sw *Writer) err() error {
	if sw.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(sw.ctx)
	if errors.Is(cause, ErrWriteTimeout) || errors.Is(cause, ErrIdle) {
		return cause
	}
	return ErrClientGone
}

// Close stops the idle checker. Further writes fail.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.closed = true
		sw.cancel(context.Canceled)
	}
	return nil
}

// Stats returns the bytes delivered and the time since the writer started.
func (sw *Writer) Stats() (int64, time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.written, time.Since(sw.start)
}

// Copy streams src to w under config's limits.
func Copy(ctx context.Context, w http.ResponseWriter, src io.Reader, config Config) (int64, error) {
	sw := NewWriter(ctx, w, config)
	defer sw.Close()

	n, err := io.Copy(sw, src)
	_, elapsed := sw.Stats()
	logging.Debug("Streamed %d bytes in %v", n, elapsed.Round(time.Millisecond))
	return n, err
}

// ServeAttachment sends the file at path as a download named name. Headers
// are written before the body, so a failure mid-copy only truncates the
// response and is returned for logging.
func ServeAttachment(w http.ResponseWriter, r *http.Request, path, name, contentType string, config Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := Copy(r.Context(), w, f, config); err != nil {
		return fmt.Errorf("download of %s interrupted: %w", name, err)
	}
	return nil
}
