package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

var (
	transportOnce sync.Once
	transport     *http.Transport
)

// pooledClient returns a client over the process-wide transport, so every
// backend pointed at the same host reuses its keep-alive connections. Only
// the overall request timeout differs per caller.
func pooledClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transportOnce.Do(func() {
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          32,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	})
	return &http.Client{Timeout: timeout, Transport: transport}
}
