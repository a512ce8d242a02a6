// Package httpclient is the JSON transport shared by the habits and store clients.
// Every call runs through a circuit breaker and failures come back as *dataerr.Error.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

var errMissingBaseURL = errors.New("httpclient: base url is required")

// Config wires a Client.
type Config struct {
	BaseURL      string
	AccessToken  string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Connectivity dataerr.Connectivity
	BreakerName  string
	Logger       *zap.Logger
}

// StatusClassifier maps a non-2xx response onto the error taxonomy.
type StatusClassifier func(status int, body string) *dataerr.Error

// Client issues authenticated JSON requests.
type Client struct {
	baseURL     *url.URL
	accessToken string
	httpClient  *http.Client
	classifier  *dataerr.Classifier
	breaker     *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

type serverFailure struct {
	status int
	body   string
}

func (f *serverFailure) Error() string {
	return fmt.Sprintf("server responded %d", f.status)
}

type responseEnvelope struct {
	status int
	body   []byte
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New validates cfg. The breaker opens after five consecutive transport or 5xx failures.
func New(cfg Config) (*Client, error) {
	rawBase := strings.TrimSpace(cfg.BaseURL)
	if rawBase == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	name := cfg.BreakerName
	if name == "" {
		name = "habituals-api"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Client{
		baseURL:     baseURL,
		accessToken: strings.TrimSpace(cfg.AccessToken),
		httpClient:  httpClient,
		classifier:  dataerr.NewClassifier(cfg.Connectivity),
		breaker:     breaker,
		logger:      logger,
	}, nil
}

// Do sends body as JSON and decodes a 2xx response into out. Failures use the transport rules.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	return c.DoWith(ctx, method, path, body, out, nil)
}

// DoWith is Do with a custom classifier for non-2xx responses.
func (c *Client) DoWith(ctx context.Context, method, path string, body, out any, classify StatusClassifier) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return dataerr.Wrap(dataerr.CodeValidationFailed, fmt.Errorf("encode request: %w", err))
		}
		payload = encoded
	}
	endpoint := c.baseURL.String() + path

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Accept", "application/json")
		if payload != nil {
			request.Header.Set("Content-Type", "application/json")
		}
		if c.accessToken != "" {
			request.Header.Set("Authorization", "Bearer "+c.accessToken)
		}
		response, err := c.httpClient.Do(request)
		if err != nil {
			return nil, err
		}
		defer response.Body.Close()
		data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if response.StatusCode >= http.StatusInternalServerError {
			return nil, &serverFailure{status: response.StatusCode, body: string(data)}
		}
		return responseEnvelope{status: response.StatusCode, body: data}, nil
	})
	if err != nil {
		return c.classifyFailure(method, path, err, classify)
	}

	envelope := result.(responseEnvelope)
	if envelope.status < 200 || envelope.status >= 300 {
		return c.classifyStatus(envelope.status, envelope.body, classify)
	}
	if out == nil || len(bytes.TrimSpace(envelope.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.body, out); err != nil {
		return dataerr.Wrap(dataerr.CodeUnknown, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) classifyFailure(method, path string, err error, classify StatusClassifier) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return dataerr.Wrap(dataerr.CodeNetworkError, err)
	}
	var failure *serverFailure
	if errors.As(err, &failure) {
		return c.classifyStatus(failure.status, []byte(failure.body), classify)
	}
	c.logger.Debug("request failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Error(err))
	classified := c.classifier.Classify(dataerr.TransportFailure{Err: err})
	if classified.Code == dataerr.CodeUnknown {
		// No response arrived, so the request never reached a server that could judge it.
		classified.Code = dataerr.CodeNetworkError
	}
	return classified
}

func (c *Client) classifyStatus(status int, body []byte, classify StatusClassifier) error {
	message := strings.TrimSpace(string(body))
	var parsed errorPayload
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		message = parsed.Error
	}
	if classify != nil {
		return classify(status, message)
	}
	return c.classifier.Classify(dataerr.TransportFailure{Status: status, Message: message})
}

// State reports the breaker state, mostly for diagnostics.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}
