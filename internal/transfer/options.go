package transfer

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gostones/cloudattach/internal/retry"
)

// DefaultPolicy is the retry policy of a single part or whole-object write.
var DefaultPolicy = retry.Policy{Attempts: 3, Base: time.Second}

type options struct {
	policy retry.Policy
	log    *slog.Logger
	client *http.Client
}

type Option func(*options)

func WithRetry(p retry.Policy) Option {
	return func(o *options) { o.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithHTTPClient sets the HTTP client used for part transfers.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func newOptions(opts []Option) options {
	o := options{
		policy: DefaultPolicy,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
