// Package httputils constructs the http.Clients used to talk to external
// services, with sane dial and request timeouts.
package httputils

import (
	"net"
	"net/http"
	"time"
)

const (
	DialTimeout    = 5 * time.Second
	RequestTimeout = 30 * time.Second
)

// NewTimeoutClient creates a new http.Client with the default dial and
// request timeouts.
func NewTimeoutClient() *http.Client {
	return NewConfiguredTimeoutClient(DialTimeout, RequestTimeout)
}

// NewConfiguredTimeoutClient creates a new http.Client with the given dial
// and request timeouts. The request timeout covers the whole exchange,
// including reading the body, so a stalled transfer cannot wedge a caller.
func NewConfiguredTimeoutClient(dialTimeout, reqTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: dialTimeout,
			}).DialContext,
		},
		Timeout: reqTimeout,
	}
}
