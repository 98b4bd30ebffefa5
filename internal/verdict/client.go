// Package verdict talks to the external inference service that decides
// whether a video is AI generated. The service is a black box reached over
// HTTP; this package only classifies its failures and validates that a
// verdict is well formed.
package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrTimeout reports that the analysis request exceeded its deadline.
	// Retryable.
	ErrTimeout = errors.New("analysis timed out")
	// ErrUnreachable reports a transport-level failure or a server-side
	// error response. Retryable.
	ErrUnreachable = errors.New("analysis service unreachable")
)

// RejectedError is a well-formed rejection from the service, such as an
// unsupported codec. Content-level rejections are not transient and must
// not be retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("analysis rejected: %s", e.Reason)
}

// Retryable reports whether the caller may re-issue the request.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable)
}

// Verdict is the opaque analysis result. Label is required; everything
// else is service-defined metadata the pipeline stores without
// interpreting.
type Verdict struct {
	Label      string            `json:"label"`
	Confidence float64           `json:"confidence,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client issues analysis requests against the inference service.
type Client struct {
	http *resty.Client
}

const defaultRequestTimeout = 30 * time.Second

// NewClient constructs a Client. A zero RequestTimeout falls back to 30s.
func NewClient(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

type analyzeRequest struct {
	Locator string `json:"locator"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RequestVerdict asks the service to analyze the blob behind locator. It
// blocks for at most the configured timeout and maps failures onto the
// package's error taxonomy.
func (c *Client) RequestVerdict(ctx context.Context, locator string) (*Verdict, error) {
	var result Verdict
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(analyzeRequest{Locator: locator}).
		SetResult(&result).
		Post("/v1/analyze")
	if err != nil {
		return nil, classifyTransportError(locator, err)
	}

	switch {
	case resp.IsSuccess():
		if result.Label == "" {
			return nil, fmt.Errorf("analyze %s: verdict missing label: %w", locator, ErrUnreachable)
		}
		return &result, nil

	case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
		return nil, &RejectedError{Reason: rejectionReason(resp.Body(), resp.StatusCode())}

	default:
		return nil, fmt.Errorf("analyze %s: service returned %d: %w", locator, resp.StatusCode(), ErrUnreachable)
	}
}

func classifyTransportError(locator string, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("analyze %s: %w", locator, ErrTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("analyze %s: %w", locator, ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("analyze %s: %w", locator, context.Canceled)
	}
	return fmt.Errorf("analyze %s: %v: %w", locator, err, ErrUnreachable)
}

func rejectionReason(body []byte, status int) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(status)
}
