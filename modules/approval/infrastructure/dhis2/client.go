// Package dhis2 is the HTTP client for the health-data platform. It
// implements the collaborator interfaces of the approval services.
package dhis2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const limiterKey = "dhis2"

type Options struct {
	BaseURL string
	// Sent verbatim as the Authorization header; wins over User/Password.
	Authorization string
	User          string
	Password      string
	Timeout       time.Duration
	// Requests per second across every process sharing Store.
	RPS             int64
	Store           limiter.Store
	RequestIDHeader string
	Logger          *logrus.Logger
	HTTPClient      *http.Client
}

type Client struct {
	baseURL         *url.URL
	authorization   string
	httpClient      *http.Client
	limiter         *limiter.Limiter
	requestIDHeader string
	logger          *logrus.Logger
}

func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid platform url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 20
	}
	if opts.Store == nil {
		opts.Store = memory.NewStore()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	auth := strings.TrimSpace(opts.Authorization)
	if auth == "" && opts.User != "" {
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(opts.User, opts.Password)
		auth = req.Header.Get("Authorization")
	}

	return &Client{
		baseURL:         u,
		authorization:   auth,
		httpClient:      httpClient,
		limiter:         limiter.New(opts.Store, limiter.Rate{Period: time.Second, Limit: opts.RPS}),
		requestIDHeader: opts.RequestIDHeader,
		logger:          opts.Logger,
	}, nil
}

// NewLimiterStore builds the throttle store. A redis store lets several
// processes share one budget against the platform.
func NewLimiterStore(kind string, client *redis.Client) (limiter.Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return memory.NewStore(), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis rate limit storage needs a redis client")
		}
		return sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "approval:dhis2:limiter"})
	default:
		return nil, errors.Errorf("unknown rate limit storage %q", kind)
	}
}

const maxErrorBody = 512

// HTTPError is a non-2xx platform response.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	return fmt.Sprintf("platform responded %d: %s", e.Status, body)
}

func (e *HTTPError) message() string {
	var m struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Body, &m) == nil && m.Message != "" {
		return m.Message
	}
	return http.StatusText(e.Status)
}

// IsNotFound reports whether err is a 404 from the platform.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

func (c *Client) wait(ctx context.Context) error {
	for {
		lctx, err := c.limiter.Get(ctx, limiterKey)
		if err != nil {
			return errors.Wrap(err, "rate limiter")
		}
		if !lctx.Reached {
			return nil
		}
		delay := time.Until(time.Unix(lctx.Reset, 0))
		if delay <= 0 {
			delay = 10 * time.Millisecond
		}
		throttled.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// do sends one request and decodes a 2xx body into out. Non-2xx responses
// come back as *HTTPError with the raw body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.requestIDHeader != "" {
		req.Header.Set(c.requestIDHeader, uuid.NewString())
	}
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeRequest(method, path, "error", start)
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()
	observeRequest(method, path, statusClass(resp.StatusCode), start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("platform request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Body: respBody}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
