package upstream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gembridge/gembridge/internal/logging"
)

// streamReader wraps a response body with context-aware cancellation and
// an idle watchdog. Cancelling the context closes the body, which
// unblocks any pending Read immediately; the watchdog catches upstreams
// that stop sending without closing the connection.
type streamReader struct {
	body         io.ReadCloser
	ctx          context.Context
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	lastActivity atomic.Int64
	idleTimeout  time.Duration
	stopWatch    chan struct{}
}

func newStreamReader(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration) *streamReader {
	sr := &streamReader{
		body:        body,
		ctx:         ctx,
		idleTimeout: idleTimeout,
		stopWatch:   make(chan struct{}),
	}
	sr.touch()

	go sr.watchContext()
	if idleTimeout > 0 {
		go sr.watchIdle()
	}
	return sr
}

func (sr *streamReader) touch() {
	sr.lastActivity.Store(time.Now().UnixNano())
}

func (sr *streamReader) watchContext() {
	select {
	case <-sr.ctx.Done():
		sr.closeWithReason("context cancelled")
	case <-sr.stopWatch:
	}
}

func (sr *streamReader) watchIdle() {
	checkInterval := sr.idleTimeout / 4
	if checkInterval < 10*time.Second {
		checkInterval = 10 * time.Second
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sr.ctx.Done():
			return
		case <-sr.stopWatch:
			return
		case <-ticker.C:
			if sr.closed.Load() {
				return
			}
			idle := time.Since(time.Unix(0, sr.lastActivity.Load()))
			if idle > sr.idleTimeout {
				logging.Warnf("Upstream stream stalled for %v (limit %v), closing", idle.Round(time.Second), sr.idleTimeout)
				sr.closeWithReason("idle timeout")
				return
			}
		}
	}
}

func (sr *streamReader) Read(p []byte) (int, error) {
	if sr.closed.Load() {
		return 0, io.EOF
	}
	n, err := sr.body.Read(p)
	if n > 0 {
		sr.touch()
	}
	return n, err
}

func (sr *streamReader) closeWithReason(reason string) {
	sr.closeOnce.Do(func() {
		sr.closed.Store(true)
		sr.closeErr = sr.body.Close()
		logging.Debugf("Upstream stream closed: %s", reason)
	})
}

func (sr *streamReader) Close() error {
	sr.closeWithReason("explicit close")
	select {
	case <-sr.stopWatch:
	default:
		close(sr.stopWatch)
	}
	return sr.closeErr
}
