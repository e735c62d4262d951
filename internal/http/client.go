// Package http builds the HTTP clients used for platform API calls and
// file transfers, including proxy support and retry classification.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/rescale-files/internal/config"
	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/logging"
)

// NewTransferClient creates an HTTP client for streaming file bodies.
//
// Differences from the API client:
//   - No overall timeout; transfers are bounded by their context
//   - Compression disabled so byte offsets match the stored object
//   - HTTP/2 unless DISABLE_HTTP2=true or a proxy is active
//
// If cfg is nil, proxy settings come from the environment.
func NewTransferClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if cfg != nil {
		baseClient, err = ConfigureHTTPClient(cfg, logger)
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{Transport: &nethttp.Transport{Proxy: nethttp.ProxyFromEnvironment}}
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport; nothing more to tune
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true

	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		// Proxies often break HTTP/2 streams mid-transfer
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0

	return baseClient, nil
}

func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return true
	}
}
