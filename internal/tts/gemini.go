package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/echoglove/voice-bridge/internal/audio"
	"github.com/echoglove/voice-bridge/internal/observability"
	"github.com/echoglove/voice-bridge/internal/resilience"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.5-flash-preview-tts"
	DefaultGeminiVoice   = "Kore"

	geminiBreaker = "gemini"
	maxErrorBody  = 4 << 10
)

// GeminiClient implements Synthesizer with the Gemini generateContent API
type GeminiClient struct {
	apiKey         string
	baseURL        string
	model          string
	voice          string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// GeminiOptions configures a GeminiClient. Empty fields take defaults.
type GeminiOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	Voice          string
	Timeout        time.Duration
	MaxFailures    int
	BreakerTimeout time.Duration
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	SpeechConfig       geminiSpeechConfig `json:"speechConfig"`
}

type geminiSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// NewGeminiClient creates a new Gemini TTS client
func NewGeminiClient(opts GeminiOptions) *GeminiClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGeminiBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.Voice == "" {
		opts.Voice = DefaultGeminiVoice
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}

	return &GeminiClient{
		apiKey:         opts.APIKey,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		model:          opts.Model,
		voice:          opts.Voice,
		httpClient:     &http.Client{Timeout: opts.Timeout},
		circuitBreaker: newProviderBreaker(geminiBreaker, opts.MaxFailures, opts.BreakerTimeout),
		logger:         observability.GetLogger().With().Str("component", "tts").Str("provider", "gemini").Logger(),
	}
}

// Synthesize asks Gemini for spoken audio of text with the configured
// prebuilt voice. The result is LINEAR16.
func (c *GeminiClient) Synthesize(ctx context.Context, text string) (*Result, error) {
	return synthesizeGuarded(c.circuitBreaker, func() (*Result, error) {
		return c.generate(ctx, text)
	})
}

// Ready is false without an API key or while the circuit breaker is open
func (c *GeminiClient) Ready(ctx context.Context) (bool, error) {
	if c.apiKey == "" {
		return false, errors.New("gemini API key not configured")
	}
	return breakerReady(c.circuitBreaker)
}

func (c *GeminiClient) generate(ctx context.Context, text string) (*Result, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: text}},
		}},
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	reqBody.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = c.voice

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", ErrProviderFailure, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: geminiBreaker, Msg: "sending request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("model", c.model).
			Msg("Gemini API returned an error")
		return nil, &ProviderError{Provider: geminiBreaker, Status: resp.StatusCode, Msg: strings.TrimSpace(string(respBody))}
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrProviderFailure, err)
	}
	if parsed.Error != nil {
		return nil, &ProviderError{Provider: geminiBreaker, Status: parsed.Error.Code, Msg: parsed.Error.Message}
	}

	inline := firstInlineData(&parsed)
	if inline == nil || inline.Data == "" {
		return nil, fmt.Errorf("%w: no audio data received from Gemini TTS", ErrProviderFailure)
	}

	c.logger.Debug().
		Str("mime_type", inline.MimeType).
		Int("audio_b64_len", len(inline.Data)).
		Dur("latency", time.Since(start)).
		Msg("Gemini synthesis complete")

	return &Result{
		Audio:      inline.Data,
		Encoding:   EncodingLinear16,
		SampleRate: sampleRateFromMime(inline.MimeType, audio.SpeechSampleRate),
		Channels:   audio.SpeechChannels,
		Voice:      c.voice,
	}, nil
}

func firstInlineData(r *geminiResponse) *geminiInlineData {
	if len(r.Candidates) == 0 {
		return nil
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.InlineData != nil {
			return p.InlineData
		}
	}
	return nil
}

// sampleRateFromMime reads the rate parameter of e.g.
// "audio/L16;codec=pcm;rate=24000"
func sampleRateFromMime(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}
