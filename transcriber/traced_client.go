package transcriber

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

type metricsKey struct{}

// withNetworkMetrics asks TracedTransport to fill m for requests made with
// the returned context.
func withNetworkMetrics(ctx context.Context, m *NetworkMetrics) context.Context {
	return context.WithValue(ctx, metricsKey{}, m)
}

// TracedTransport records connection phase timings for requests whose
// context carries a NetworkMetrics.
type TracedTransport struct {
	base http.RoundTripper
}

func NewTracedTransport() *TracedTransport {
	return &TracedTransport{
		base: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// NewTracedClient wraps a TracedTransport in an http.Client.
func NewTracedClient() *http.Client {
	return &http.Client{Transport: NewTracedTransport()}
}

func (t *TracedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	metrics, _ := req.Context().Value(metricsKey{}).(*NetworkMetrics)
	if metrics == nil {
		return t.base.RoundTrip(req)
	}

	// the transport fires these hooks from its write and read loops
	var mu sync.Mutex
	var getConnStart, dnsStart, tcpStart, tlsStart time.Time
	var gotConn, wroteHeaders, wroteRequest, firstByte time.Time
	stamp := func(fn func(now time.Time)) {
		now := time.Now()
		mu.Lock()
		fn(now)
		mu.Unlock()
	}

	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) { stamp(func(now time.Time) { getConnStart = now }) },
		GotConn: func(info httptrace.GotConnInfo) {
			stamp(func(now time.Time) {
				gotConn = now
				metrics.ConnWait = now.Sub(getConnStart)
				metrics.ConnReused = info.Reused
			})
		},
		DNSStart:          func(_ httptrace.DNSStartInfo) { stamp(func(now time.Time) { dnsStart = now }) },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { stamp(func(now time.Time) { metrics.DNS = now.Sub(dnsStart) }) },
		ConnectStart:      func(_, _ string) { stamp(func(now time.Time) { tcpStart = now }) },
		ConnectDone:       func(_, _ string, _ error) { stamp(func(now time.Time) { metrics.TCP = now.Sub(tcpStart) }) },
		TLSHandshakeStart: func() { stamp(func(now time.Time) { tlsStart = now }) },
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			stamp(func(now time.Time) { metrics.TLS = now.Sub(tlsStart) })
		},
		WroteHeaders: func() {
			stamp(func(now time.Time) {
				wroteHeaders = now
				metrics.ReqHeaders = now.Sub(gotConn)
			})
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			stamp(func(now time.Time) {
				wroteRequest = now
				metrics.ReqBody = now.Sub(wroteHeaders)
			})
		},
		GotFirstResponseByte: func() {
			stamp(func(now time.Time) {
				firstByte = now
				metrics.TTFB = now.Sub(wroteRequest)
			})
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	reqStart := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &timedBody{ReadCloser: resp.Body, done: func() {
		stamp(func(now time.Time) {
			if !firstByte.IsZero() {
				metrics.Download = now.Sub(firstByte)
			}
			metrics.Total = now.Sub(reqStart)
		})
	}}
	return resp, nil
}

// timedBody stamps the download phase when the caller closes the body.
type timedBody struct {
	io.ReadCloser
	done   func()
	closed bool
}

func (b *timedBody) Close() error {
	if !b.closed {
		b.closed = true
		b.done()
	}
	return b.ReadCloser.Close()
}

// WarmConnection pre-establishes a TLS connection to url and returns the
// handshake time.
func WarmConnection(client *http.Client, url string) time.Duration {
	var tlsStart time.Time
	var tlsDuration time.Duration

	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(_ tls.ConnectionState, _ error) { tlsDuration = time.Since(tlsStart) },
	}

	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return tlsDuration
}
