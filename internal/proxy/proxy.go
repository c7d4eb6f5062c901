// Package proxy forwards gated requests to the application behind the gate.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/nhalm/canonlog"

	"github.com/nhalm/chigate"
)

// New returns a reverse proxy to upstream.
// Upstream failures answer 502 through the response wrapper when it is installed.
func New(upstream string) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream url must include scheme and host")
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// Keep the client chain the gate identified the request by.
			if prior := pr.In.Header.Get("X-Forwarded-For"); prior != "" {
				if hop := pr.Out.Header.Get("X-Forwarded-For"); hop != "" {
					prior += ", " + hop
				}
				pr.Out.Header.Set("X-Forwarded-For", prior)
			}
			pr.Out.Host = pr.In.Host
		},
		FlushInterval: 100 * time.Millisecond,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if _, ok := canonlog.TryGetLogger(r.Context()); ok {
				canonlog.ErrorAdd(r.Context(), fmt.Errorf("upstream: %w", err))
			}
			if chigate.HasState(r.Context()) {
				chigate.SetError(r, chigate.ErrBadGateway)
				return
			}
			http.Error(w, chigate.ErrBadGateway.Message, chigate.ErrBadGateway.Status)
		},
	}
	return rp, nil
}
