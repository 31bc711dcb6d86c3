// Package speech talks to the external transcription and translation
// services. Both use the OpenAI-compatible HTTP API; any server that speaks
// /audio/transcriptions and /chat/completions works.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"polycast/internal/metrics"
	"polycast/pkg/interfaces"
)

// Config holds the connection details of the speech API.
type Config struct {
	APIKey             string        `json:"-"`
	BaseURL            string        `json:"base_url"`
	TranscriptionModel string        `json:"transcription_model"`
	TranslationModel   string        `json:"translation_model"`
	Timeout            time.Duration `json:"timeout"`
}

// DefaultConfig returns settings for the hosted OpenAI API.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.openai.com/v1",
		TranscriptionModel: "whisper-1",
		TranslationModel:   "gpt-4o-mini",
		Timeout:            30 * time.Second,
	}
}

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 1 << 20

// Client implements interfaces.Transcriber and interfaces.Translator.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

var (
	_ interfaces.Transcriber = (*Client)(nil)
	_ interfaces.Translator  = (*Client)(nil)
)

// NewClient validates cfg and builds a client. A missing API key is an
// error: the relay cannot do anything useful without it.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = defaults.TranscriptionModel
	}
	if cfg.TranslationModel == "" {
		cfg.TranslationModel = defaults.TranslationModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "speech").Logger(),
	}, nil
}

// Transcribe uploads one audio chunk and returns the recognized text, which
// may be empty for silence.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("model", c.cfg.TranscriptionModel); err != nil {
		return "", err
	}
	part, err := form.CreateFormFile("file", "audio.webm")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	start := time.Now()
	data, err := c.do(ctx, "/audio/transcriptions", form.FormDataContentType(), &body)
	metrics.ExternalCallDuration.WithLabelValues("transcription").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: invalid transcription response: %v", ErrEmptyResponse, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// TranslateBatch asks for every target language in one completion. The
// model answers with a JSON object keyed by language name; languages it
// leaves out or answers with an empty string are absent from the result.
func (c *Client) TranslateBatch(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if len(targetLangs) == 0 {
		return nil, ErrNoTargetLangs
	}

	req := chatRequest{
		Model:       c.cfg.TranslationModel,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: translationPrompt(sourceLang, targetLangs)},
			{Role: "user", Content: text},
		},
	}
	req.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := c.do(ctx, "/chat/completions", "application/json", bytes.NewReader(payload))
	metrics.ExternalCallDuration.WithLabelValues("translation").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: invalid completion response: %v", ErrEmptyResponse, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrEmptyResponse)
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
		return nil, fmt.Errorf("%w: translation is not a JSON object: %v", ErrEmptyResponse, err)
	}

	out := make(map[string]string, len(targetLangs))
	for _, lang := range targetLangs {
		if v := strings.TrimSpace(raw[lang]); v != "" {
			out[lang] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no requested language translated", ErrEmptyResponse)
	}
	if len(out) < len(targetLangs) {
		c.logger.Debug().Int("requested", len(targetLangs)).Int("returned", len(out)).Msg("partial translation batch")
	}
	return out, nil
}

// Translate translates text into a single language.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	out, err := c.TranslateBatch(ctx, text, "", []string{targetLang})
	if err != nil {
		return "", err
	}
	return out[targetLang], nil
}

func translationPrompt(sourceLang string, targetLangs []string) string {
	from := "the detected source language"
	if sourceLang != "" {
		from = sourceLang
	}
	return fmt.Sprintf(
		"Translate the user's text from %s into each of these languages: %s. "+
			"Reply with only a JSON object whose keys are exactly those language names "+
			"and whose values are the translations.",
		from, strings.Join(targetLangs, ", "))
}

// do posts body to path and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read speech response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &errResp)
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Str("error", errResp.Error.Message).Msg("speech API error")
		return nil, fmt.Errorf("%w: %d %s", ErrUpstream, resp.StatusCode, errResp.Error.Message)
	}
	return data, nil
}
