package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/rescale-files/internal/config"
	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/logging"
)

const (
	defaultProxyPort = 8080
	warmupTimeout    = 15 * time.Second
)

// ConfigureHTTPClient returns the client used for platform API calls, routed
// according to cfg.ProxyMode:
//
//	no-proxy  direct connections
//	system    HTTP_PROXY / HTTPS_PROXY / NO_PROXY from the environment
//	basic     cfg.ProxyHost with credentials in the proxy URL
//	ntlm      cfg.ProxyHost with NTLM negotiation
func ConfigureHTTPClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	mode := strings.ToLower(cfg.ProxyMode)

	transport := newTransport()
	var rt nethttp.RoundTripper = transport

	switch mode {
	case "", "no-proxy":
	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment
	case "basic", "ntlm":
		if cfg.ProxyHost == "" {
			// Run direct so a half-written config can still be fixed with 'config test'.
			logger.Warn().Str("mode", mode).Msg("proxy host is missing, connecting directly")
			break
		}
		if NeedsProxyPassword(cfg) {
			logger.Warn().Str("user", cfg.ProxyUser).Msg("proxy password not set, proxy auth disabled")
		}
		transport.Proxy = proxyFor(buildProxyURL(cfg), cfg.NoProxy, logger)
		if mode == "ntlm" {
			rt = ntlmssp.Negotiator{RoundTripper: transport}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.ProxyMode)
	}

	client := &nethttp.Client{Transport: rt, Timeout: constants.HTTPAPITimeout}
	if shouldWarmup(cfg, mode) {
		if err := warmupProxy(client, cfg.APIBaseURL); err != nil {
			return nil, fmt.Errorf("proxy warmup failed: %w", err)
		}
	}
	return client, nil
}

func newTransport() *nethttp.Transport {
	dialer := &net.Dialer{
		Timeout:   constants.HTTPDialTimeout,
		KeepAlive: constants.HTTPDialKeepAlive,
	}
	return &nethttp.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// shouldWarmup reports whether an authenticated round trip should be made
// up front, so a bad proxy password fails at startup instead of mid-queue.
func shouldWarmup(cfg *config.Config, mode string) bool {
	if !cfg.ProxyWarmup {
		return false
	}
	switch mode {
	case "system":
		return true
	case "basic", "ntlm":
		return cfg.ProxyHost != "" && cfg.ProxyUser != "" && cfg.ProxyPassword != ""
	}
	return false
}

func buildProxyURL(cfg *config.Config) *url.URL {
	port := cfg.ProxyPort
	if port == 0 {
		port = defaultProxyPort
	}
	u := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.ProxyHost, strconv.Itoa(port)),
	}
	// Some proxies reject "user:@host".
	if cfg.ProxyUser != "" && cfg.ProxyPassword != "" {
		u.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}
	return u
}

func warmupProxy(client *nethttp.Client, baseURL string) error {
	if baseURL == "" {
		baseURL = config.DefaultPlatformURL
	}
	ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, strings.TrimSuffix(baseURL, "/")+"/api/v3/", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("platform returned %d through proxy", resp.StatusCode)
	}
	return nil
}

// proxyFor routes every request through proxyURL except hosts matched by
// noProxy (comma-separated domains, *.wildcards, IPs and CIDRs).
func proxyFor(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if strings.TrimSpace(noProxy) == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	match := (&httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}).ProxyFunc()

	return func(req *nethttp.Request) (*url.URL, error) {
		u, err := match(req.URL)
		if u == nil && err == nil {
			logger.Debug().Str("host", req.URL.Host).Msg("bypassing proxy")
		}
		return u, err
	}
}

// NeedsProxyPassword reports whether cfg names a proxy user for an
// authenticating mode but carries no password yet.
func NeedsProxyPassword(cfg *config.Config) bool {
	switch strings.ToLower(cfg.ProxyMode) {
	case "basic", "ntlm":
		return cfg.ProxyUser != "" && cfg.ProxyPassword == ""
	}
	return false
}
