package httpapi

import (
	"time"

	"github.com/John-Robertt/clash2singbox/internal/fetch"
	"go.uber.org/zap"
)

// Options controls HTTP API runtime behavior.
type Options struct {
	// ConvertTimeout is the hard upper bound for a single request
	// (fetch + parse + compile + render).
	ConvertTimeout time.Duration

	// FetchTimeout is the per-HTTP-request timeout for remote resources.
	FetchTimeout  time.Duration
	FetchMaxBytes int64
	UserAgent     string

	// PublicBaseURL is the externally visible base of this service. Empty
	// means derive it from the request Host.
	PublicBaseURL string

	// DisableFakeIP declares that the target sing-box build has no fake-ip.
	DisableFakeIP bool

	RulesetCacheTTL        time.Duration
	RulesetCacheMaxEntries int

	Logger *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.ConvertTimeout <= 0 {
		o.ConvertTimeout = 60 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.RulesetCacheTTL <= 0 {
		o.RulesetCacheTTL = 24 * time.Hour
	}
	if o.RulesetCacheMaxEntries <= 0 {
		o.RulesetCacheMaxEntries = 512
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

func (o Options) fetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:   o.FetchTimeout,
		MaxBytes:  o.FetchMaxBytes,
		UserAgent: o.UserAgent,
	}
}
