// Package device delivers compressed audio to a LAN speaker over its upload
// endpoint. The speaker accepts one multipart field and starts playback on
// success; it has no other protocol.
package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/echoglove/voice-bridge/internal/observability"
)

const (
	UploadPath  = "/upload"
	FieldName   = "audio"
	FileName    = "speech.mp3"
	ContentType = "audio/mpeg"

	maxErrorBody = 4 << 10
)

// Client uploads audio to speaker devices. It keeps no per-device state.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a device client whose requests time out after timeout.
// A zero timeout leaves requests bounded only by their context.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     observability.GetLogger().With().Str("component", "device").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL normalises a host or host:port into the device's base URL.
// A leading http:// and trailing slashes are tolerated.
func BaseURL(address string) (string, error) {
	addr := strings.TrimSpace(address)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if strings.Contains(addr, "://") || strings.ContainsAny(addr, "/?# ") {
		return "", fmt.Errorf("%w: %q is not a host or host:port", ErrInvalidAddress, address)
	}

	u, err := url.Parse("http://" + addr)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q is not a host or host:port", ErrInvalidAddress, address)
	}
	return "http://" + u.Host, nil
}

// UploadURL returns http://<address>/upload
func UploadURL(address string) (string, error) {
	base, err := BaseURL(address)
	if err != nil {
		return "", err
	}
	return base + UploadPath, nil
}

// Upload posts audioBytes to the device as the "audio" part of a multipart
// form. It makes exactly one attempt. Failures are *UploadError.
func (c *Client) Upload(ctx context.Context, address string, audioBytes []byte) error {
	target, err := UploadURL(address)
	if err != nil {
		return err
	}

	body, contentType, err := buildUploadBody(audioBytes)
	if err != nil {
		return fmt.Errorf("building upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordUpload("transport", time.Since(start))
		c.logger.Warn().Err(err).Str("url", target).Msg("Device unreachable")
		return &UploadError{Kind: TransportFailure, URL: target, Err: err}
	}
	defer resp.Body.Close()

	observability.RecordUpload(fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// A failed body read must not hide the status failure
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("url", target).
			Msg("Device rejected upload")
		return &UploadError{
			Kind:       HTTPStatusFailure,
			URL:        target,
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Body:       strings.TrimSpace(string(text)),
		}
	}

	// Body is ignored on success; drain a little so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(audioBytes)).
		Str("url", target).
		Msg("Audio uploaded to device")
	return nil
}

// Probe checks that something answers HTTP at the device address. Any
// response, whatever its status, counts as reachable.
func (c *Client) Probe(ctx context.Context, address string) error {
	base, err := BaseURL(address)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/", nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UploadError{Kind: TransportFailure, URL: base + "/", Err: err}
	}
	resp.Body.Close()
	return nil
}

func buildUploadBody(audioBytes []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldName, FileName))
	header.Set("Content-Type", ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("creating form part: %w", err)
	}
	if _, err = part.Write(audioBytes); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

func statusText(resp *http.Response) string {
	// resp.Status is "500 Internal Server Error"; keep the reason phrase
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
