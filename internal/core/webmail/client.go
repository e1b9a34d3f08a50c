package webmail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/EasyLZU/EasyLZUMail/internal/utils/redact"
)

var logWebmail = logrus.WithField("pkg", "core/webmail") //nolint:gochecknoglobals

const userAgent = "Mozilla/5.0 (Macintosh) AppleWebKit/537.36 (KHTML) Safari/537.36"

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	Rate       float64
	Burst      int
	Extractor  Extractor
	Location   *time.Location
	HTTPClient *http.Client
}

const (
	DefaultBaseURL = "https://mail.lzu.edu.cn"
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 3
	DefaultRate    = 10
	DefaultBurst   = 20
)

// Client owns one authenticated session against the webmail service.
// It is safe for concurrent use once logged in.
type Client struct {
	base      *url.URL
	http      *http.Client
	timeout   time.Duration
	retries   int
	limiter   *rate.Limiter
	extractor Extractor
	location  *time.Location

	mu      sync.RWMutex
	account string
	sid     string
	cookie  string
}

// New creates a client that is not logged in yet.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid webmail base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 1 {
		opts.Retries = DefaultRetries
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Extractor == nil {
		opts.Extractor = RegexExtractor{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	hc := &http.Client{}
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		hc = &copied
	}
	// The login POST answers with a redirect whose headers carry the session.
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		base:      base,
		http:      hc,
		timeout:   opts.Timeout,
		retries:   opts.Retries,
		limiter:   rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		extractor: opts.Extractor,
		location:  opts.Location,
	}, nil
}

// Account returns the account of the logged in session, or "".
func (c *Client) Account() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account
}

// LoggedIn reports whether all login stages completed.
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid != "" && c.cookie != ""
}

func (c *Client) credentials() (sid, cookie string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sid == "" || c.cookie == "" {
		return "", "", ErrNotAuthenticated
	}
	return c.sid, c.cookie, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs one request under the per-call deadline.
func (c *Client) do(ctx context.Context, op, method, target, contentType, cookie string, body []byte) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return &response{status: res.StatusCode, header: res.Header, body: data}, nil
}

// get retries transport failures; the requests it serves are idempotent.
func (c *Client) get(ctx context.Context, op, target, cookie string) (*response, error) {
	var (
		res     *response
		lastErr error
	)
	err := retry.Retry(func() error {
		res, lastErr = c.do(ctx, op, http.MethodGet, target, "", cookie, nil)
		if lastErr != nil && ctx.Err() != nil {
			// caller is gone, stop retrying
			return nil
		}
		return lastErr
	}, c.retries, func(err error) error {
		logWebmail.WithError(err).WithField("op", op).Warn("Upstream request failed, retrying")
		return nil
	}, func() error {
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return res, nil
}

func (c *Client) logEntry() *logrus.Entry {
	return logWebmail.WithField("account", redact.MaskEmail(c.Account()))
}
