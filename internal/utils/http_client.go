package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewTransport returns the tuned transport shared by outbound clients.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient builds a client on rt, or on NewTransport when rt is nil.
// A zero timeout leaves the client unbounded, which streaming bodies need.
func NewHTTPClient(timeout time.Duration, rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = NewTransport()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}
