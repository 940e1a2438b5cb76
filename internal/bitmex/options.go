// Package bitmex implements the BitMEX connectivity adapter: a signed REST
// command pipeline with client-side quota accounting and an authenticated
// websocket session that rebuilds order, fill, position, margin, contract and
// quote state from the venue's topic stream.
package bitmex

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quayside/bitmexgw/config"
	"github.com/quayside/bitmexgw/errs"
)

const (
	venueName = "BITMEX"

	restHostReal    = "https://www.bitmex.com/api/v1"
	restHostTestnet = "https://testnet.bitmex.com/api/v1"

	streamHostReal    = "wss://www.bitmex.com/realtime"
	streamHostTestnet = "wss://testnet.bitmex.com/realtime"

	defaultSessions    = 3
	defaultRateLimit   = 60
	defaultHTTPTimeout = 10 * time.Second
)

// Options configure one gateway connection. Built from config.Settings; zero
// fields fall back to the venue defaults.
type Options struct {
	APIKey    string
	APISecret string
	Server    config.Server

	RestURL   string
	StreamURL string

	Sessions    int
	RateLimit   int
	HTTPTimeout time.Duration
	ProxyURL    string

	Environment config.Environment
}

// OptionsFromConfig maps the loaded settings onto adapter options.
func OptionsFromConfig(cfg config.Settings) Options {
	gw := cfg.Gateway
	return Options{
		APIKey:      gw.Credentials.APIKey,
		APISecret:   gw.Credentials.APISecret,
		Server:      gw.Server,
		RestURL:     gw.RestURL,
		StreamURL:   gw.StreamURL,
		Sessions:    gw.Sessions,
		RateLimit:   gw.RateLimit,
		HTTPTimeout: gw.HTTPTimeout,
		ProxyURL:    gw.ProxyURL(),
		Environment: cfg.Environment,
	}
}

func withDefaults(in Options) Options {
	if in.Server == "" {
		in.Server = config.ServerReal
	}
	if in.Sessions <= 0 {
		in.Sessions = defaultSessions
	}
	if in.RateLimit <= 0 {
		in.RateLimit = defaultRateLimit
	}
	if in.HTTPTimeout <= 0 {
		in.HTTPTimeout = defaultHTTPTimeout
	}
	if in.Environment == "" {
		in.Environment = config.EnvProduction
	}
	return in
}

func (o Options) restEndpoint() string {
	if base := strings.TrimSpace(o.RestURL); base != "" {
		return strings.TrimSuffix(base, "/")
	}
	if o.Server == config.ServerTestnet {
		return restHostTestnet
	}
	return restHostReal
}

func (o Options) streamEndpoint() string {
	if base := strings.TrimSpace(o.StreamURL); base != "" {
		return base
	}
	if o.Server == config.ServerTestnet {
		return streamHostTestnet
	}
	return streamHostReal
}

func (o Options) transport() (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxy := strings.TrimSpace(o.ProxyURL); proxy != "" {
		parsed, err := url.Parse(proxy)
		if err != nil {
			return nil, errs.New(venueName, errs.CodeInvalid,
				errs.WithMessage("malformed proxy url "+proxy), errs.WithCause(err))
		}
		tr.Proxy = http.ProxyURL(parsed)
	}
	return tr, nil
}

// restHTTPClient builds the command-channel client: proxy-aware with a hard
// per-request timeout.
func (o Options) restHTTPClient() (*http.Client, error) {
	tr, err := o.transport()
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr, Timeout: o.HTTPTimeout}, nil
}

// streamHTTPClient builds the websocket handshake client. It must carry no
// client timeout: the dialer hijacks the connection and a timeout would kill
// the stream mid-session.
func (o Options) streamHTTPClient() (*http.Client, error) {
	tr, err := o.transport()
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr}, nil
}
