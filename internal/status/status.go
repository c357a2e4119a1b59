package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrUnhealthy is returned when the relay answers but reports a bad status.
var ErrUnhealthy = errors.New("relay unhealthy")

// Config controls the status client.
type Config struct {
	// BaseURL is the relay's HTTP root, e.g. http://127.0.0.1:3001.
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// PollInterval spaces WaitHealthy attempts.
	PollInterval time.Duration
}

// DefaultConfig returns conservative settings for a local relay.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// StatusError carries an unexpected HTTP status.
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.Path, e.Status)
}

// Client queries a relay's HTTP surface.
type Client struct {
	cfg    Config
	resty  *resty.Client
	logger *logging.Logger
}

// New builds a client whose transport retries connection failures and 5xx
// answers.
func New(cfg Config, logger *logging.Logger) *Client {
	d := DefaultConfig(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = d.RetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = d.RetryWaitMax
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	logger = logger.Named("status")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = leveled{logger.Sugar()}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	r := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "pluginbridge-status/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	return &Client{cfg: cfg, resty: r, logger: logger}
}

// Health fetches /health. A relay that answers 200 with a status other than
// "ok" yields the decoded body and ErrUnhealthy.
func (c *Client) Health(ctx context.Context) (*types.Health, error) {
	var health types.Health
	if err := c.get(ctx, "/health", &health); err != nil {
		return nil, err
	}
	if !health.Healthy() {
		return &health, fmt.Errorf("%w: status %q", ErrUnhealthy, health.Status)
	}
	return &health, nil
}

// Rooms fetches the current room membership from /rooms.
func (c *Client) Rooms(ctx context.Context) (*types.RoomState, error) {
	var state types.RoomState
	if err := c.get(ctx, "/rooms", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// WaitHealthy polls Health until the relay is healthy or ctx is done.
func (c *Client) WaitHealthy(ctx context.Context) (*types.Health, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		health, err := c.Health(ctx)
		if err == nil {
			return health, nil
		}
		c.logger.Debug("relay not healthy yet", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for relay at %s: %w (last error: %v)", c.cfg.BaseURL, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &StatusError{Path: path, Status: resp.StatusCode()}
	}
	return nil
}

// leveled adapts zap to retryablehttp's logger.
type leveled struct {
	s *zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
