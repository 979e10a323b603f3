package signals

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Provider fetches signals for a subject from an upstream source.
type Provider interface {
	Sentiment(ctx context.Context, subject string) (*SentimentSignal, error)
	Momentum(ctx context.Context, subject string) (*MomentumSignal, error)
}

// BreakerConfig controls when the upstream is considered down.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"maxRequests" default:"1"`
	Interval            time.Duration `yaml:"interval" default:"60s"`
	Timeout             time.Duration `yaml:"timeout" default:"30s"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures" default:"5"`
}

var errNotFound = errors.New("no signal for subject")

// Client is a Provider backed by the signal REST service.
type Client struct {
	base    string
	rest    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(base string, timeout time.Duration, bc BreakerConfig) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(2 * time.Second)
	}
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = 5
	}

	st := gobreaker.Settings{
		Name:        "signal-service",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
	}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
	}
	// a subject the service does not know is an answer, not an outage
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, errNotFound)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Signal breaker state changed")
	}

	return &Client{
		base:    strings.TrimRight(base, "/"),
		rest:    r,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) Sentiment(ctx context.Context, subject string) (*SentimentSignal, error) {
	var out SentimentSignal
	if err := c.fetch(ctx, "sentiment", subject, &out); err != nil {
		return nil, err
	}
	if out.Subject == "" {
		out.Subject = subject
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignalUnavailable, err)
	}
	return &out, nil
}

func (c *Client) Momentum(ctx context.Context, subject string) (*MomentumSignal, error) {
	var out MomentumSignal
	if err := c.fetch(ctx, "momentum", subject, &out); err != nil {
		return nil, err
	}
	if out.Subject == "" {
		out.Subject = subject
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignalUnavailable, err)
	}
	return &out, nil
}

func (c *Client) fetch(ctx context.Context, kind, subject string, result interface{}) error {
	endpoint := fmt.Sprintf("%s/%s/%s", c.base, kind, url.PathEscape(subject))

	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.rest.R().
			SetContext(ctx).
			SetResult(result).
			Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, errNotFound
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrSignalUnavailable, kind, subject, err)
	}
	return nil
}
