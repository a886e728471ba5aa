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

	"github.com/rs/zerolog"

	"github.com/echoglove/voice-bridge/internal/audio"
	"github.com/echoglove/voice-bridge/internal/observability"
	"github.com/echoglove/voice-bridge/internal/resilience"
)

const relayBreaker = "tts_relay"

// RelayClient calls an HTTP function that performs synthesis on our behalf
// and answers {success, audio, encoding, sampleRate, channels, voice} or
// {error, details}.
type RelayClient struct {
	url            string
	token          string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

type relayRequest struct {
	Message string `json:"message"`
}

type relayResponse struct {
	Success    bool   `json:"success"`
	Audio      string `json:"audio"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Voice      string `json:"voice"`
	Error      string `json:"error"`
	Details    string `json:"details"`
}

// NewRelayClient creates a relay client. token, when set, is sent as a
// bearer token.
func NewRelayClient(url, token string, timeout time.Duration, maxFailures int, breakerTimeout time.Duration) *RelayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	return &RelayClient{
		url:            url,
		token:          token,
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: newProviderBreaker(relayBreaker, maxFailures, breakerTimeout),
		logger:         observability.GetLogger().With().Str("component", "tts").Str("provider", "relay").Logger(),
	}
}

// Synthesize posts {message} to the relay
func (c *RelayClient) Synthesize(ctx context.Context, text string) (*Result, error) {
	return synthesizeGuarded(c.circuitBreaker, func() (*Result, error) {
		return c.call(ctx, text)
	})
}

// Ready is false without a URL or while the circuit breaker is open
func (c *RelayClient) Ready(ctx context.Context) (bool, error) {
	if c.url == "" {
		return false, errors.New("relay URL not configured")
	}
	return breakerReady(c.circuitBreaker)
}

func (c *RelayClient) call(ctx context.Context, text string) (*Result, error) {
	bodyBytes, err := json.Marshal(relayRequest{Message: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", ErrProviderFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: relayBreaker, Msg: "sending request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &ProviderError{Provider: relayBreaker, Msg: "reading response", Err: err}
	}

	var parsed relayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &ProviderError{Provider: relayBreaker, Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("%w: decoding response: %v", ErrProviderFailure, err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error", parsed.Error).
			Str("details", parsed.Details).
			Msg("Relay synthesis failed")
		return nil, &ProviderError{Provider: relayBreaker, Status: resp.StatusCode, Msg: msg}
	}

	if parsed.Audio == "" {
		return nil, fmt.Errorf("%w: relay returned no audio", ErrProviderFailure)
	}

	encoding := strings.ToUpper(parsed.Encoding)
	switch encoding {
	case "":
		encoding = EncodingLinear16
	case EncodingLinear16, EncodingMP3:
	default:
		return nil, fmt.Errorf("%w: unsupported audio encoding %q", ErrProviderFailure, parsed.Encoding)
	}

	sampleRate := parsed.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.SpeechSampleRate
	}
	channels := parsed.Channels
	if channels <= 0 {
		channels = audio.SpeechChannels
	}
	if channels > 2 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrProviderFailure, channels)
	}

	return &Result{
		Audio:      parsed.Audio,
		Encoding:   encoding,
		SampleRate: sampleRate,
		Channels:   channels,
		Voice:      parsed.Voice,
	}, nil
}
