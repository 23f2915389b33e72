// Package tts synthesizes notification audio through a remote voice-cloning
// API and keeps the results in the voice cache.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/speech-notifier/internal/tts/audio"
)

// RequestTimeout bounds every synthesis request. Requests past it are abandoned.
const RequestTimeout = 10 * time.Second

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
)

const (
	maxAudioBytes   = 32 << 20
	maxErrorExcerpt = 256
)

// Error messages.
const (
	errFmtServiceError     = "%w: %s: %s"
	errFmtServiceNonOK     = "%w: %s, body: %s"
	errFmtRequestTransport = "%w: request to %s failed: %w"
)

var (
	// ErrNetwork classifies transport failures, timeouts and non-200 responses.
	ErrNetwork = errors.New("synthesis network error")
	// ErrProviderStatus indicates a non-200 response from the provider.
	ErrProviderStatus = errors.New("synthesis provider returned non-OK status")
	// ErrTextEmpty indicates an empty synthesis request.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEndpointEmpty indicates a client constructed without an endpoint.
	ErrEndpointEmpty = errors.New("endpoint cannot be empty")
	// ErrAudioTooLarge indicates a response body over the accepted size.
	ErrAudioTooLarge = errors.New("audio response too large")
)

// Request is the JSON body of a synthesis request.
type Request struct {
	Text        string  `json:"text"`
	ReferenceID string  `json:"reference_id"`
	APIKey      string  `json:"api_key"`
	SampleRate  int     `json:"sample_rate"`
	Volume      float64 `json:"volume"`
	Rate        float64 `json:"rate"`
}

// ErrorResponse is the structured error body some providers return.
type ErrorResponse struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// Synthesizer turns a request into validated audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// HTTPClient calls the remote synthesis API.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
}

// NewHTTPClient creates a client for endpoint. Every request is bounded by
// timeout, or RequestTimeout when timeout is zero.
func NewHTTPClient(endpoint string, timeout time.Duration) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, ErrEndpointEmpty
	}

	if timeout <= 0 {
		timeout = RequestTimeout
	}

	return &HTTPClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Synthesize sends one POST and returns the audio body. The body must pass
// audio.Sniff; a provider can answer 200 with an error document, and such a
// payload is discarded.
func (c *HTTPClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestTransport, ErrNetwork, c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", ErrNetwork, err)
	}

	if len(audioData) > maxAudioBytes {
		return nil, ErrAudioTooLarge
	}

	_, err = audio.Sniff(audioData)
	if err != nil {
		return nil, err
	}

	return audioData, nil
}

// parseErrorResponse decodes a structured error when the provider sends one
// and falls back to a raw body excerpt.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
	statusErr := fmt.Errorf("%w: %w", ErrNetwork, ErrProviderStatus)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil {
		detail := errorResp.Detail
		if detail == "" {
			detail = errorResp.Message
		}

		if detail != "" {
			return fmt.Errorf(errFmtServiceError, statusErr, resp.Status, detail)
		}
	}

	return fmt.Errorf(errFmtServiceNonOK, statusErr, resp.Status, strings.TrimSpace(string(body)))
}
