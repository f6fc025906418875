// Package resilience provides the shared HTTP transport and circuit
// breaker used for upstream API calls.
package resilience

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Transport settings tuned for long-lived LLM streaming connections.
const (
	maxIdleConns          = 256
	maxIdleConnsPerHost   = 32
	idleConnTimeout       = 90 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	responseHeaderTimeout = 600 * time.Second // large-context requests are slow to first byte
	dialTimeout           = 30 * time.Second
	keepAlive             = 30 * time.Second
	h2ReadIdleTimeout     = 30 * time.Second
	h2PingTimeout         = 15 * time.Second
)

var (
	sharedTransport     *http.Transport
	sharedTransportOnce sync.Once
)

// SharedTransport returns the singleton pooled transport with HTTP/2
// keepalive pings enabled for streaming stability.
func SharedTransport() *http.Transport {
	sharedTransportOnce.Do(func() {
		sharedTransport = newBaseTransport()
	})
	return sharedTransport
}

func newBaseTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,

		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,

		ForceAttemptHTTP2: true,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},

		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,
	}
	configureHTTP2(t)
	return t
}

func configureHTTP2(transport *http.Transport) {
	h2Transport, err := http2.ConfigureTransports(transport)
	if err != nil {
		return
	}
	h2Transport.ReadIdleTimeout = h2ReadIdleTimeout
	h2Transport.PingTimeout = h2PingTimeout
}

// NewHTTPClient returns a client over the shared transport. A zero
// timeout leaves the client unbounded, which streaming requires; the
// transport's header timeout still applies.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: SharedTransport(),
		Timeout:   timeout,
	}
}
