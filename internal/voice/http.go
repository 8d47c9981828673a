package voice

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

	"github.com/mfalda/parla/internal/reliability"
)

const (
	providerRetryMax  = 2
	providerRetryBase = 200 * time.Millisecond
	providerRetryCap  = 2 * time.Second
)

// HTTPProvider implements synthesis and transcription against OpenAI-style
// /audio/speech and /audio/transcriptions endpoints.
type HTTPProvider struct {
	baseURL  string
	apiKey   string
	ttsModel string
	sttModel string
	format   string
	client   *http.Client
}

func NewHTTPProvider(baseURL, apiKey, ttsModel, sttModel, format string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:   apiKey,
		ttsModel: ttsModel,
		sttModel: sttModel,
		format:   format,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
}

// Delivery instructions per conversation mode. Only modes listed here shade
// the voice; everything else renders with provider defaults.
var modeInstructions = map[string]string{
	"interview": "Speak in a composed, professional interviewer tone.",
	"language":  "Speak slowly and articulate clearly for a language learner.",
	"helpdesk":  "Speak in a patient, reassuring support tone.",
}

func (p *HTTPProvider) Synthesize(ctx context.Context, text, voiceID, modeName string) ([]byte, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          p.ttsModel,
		Voice:          voiceID,
		Input:          text,
		ResponseFormat: p.format,
		Instructions:   modeInstructions[modeName],
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= providerRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, providerRetryBase, providerRetryCap)):
			}
		}

		audio, retryable, err := p.synthesizeOnce(ctx, payload)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *HTTPProvider) synthesizeOnce(ctx context.Context, payload []byte) (audio []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	res, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("send speech request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("speech http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err = io.ReadAll(res.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read speech response: %w", err)
	}
	if len(audio) == 0 {
		return nil, false, fmt.Errorf("speech response was empty")
	}
	return audio, false, nil
}

func (p *HTTPProvider) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", fileNameForMime(mimeType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = form.WriteField("model", p.sttModel)
	if language != "" {
		_ = form.WriteField("language", language)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send transcription request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("transcription http status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return parsed.Text, nil
}

func fileNameForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return "audio.wav"
	case strings.Contains(mimeType, "ogg"):
		return "audio.ogg"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"):
		return "audio.m4a"
	case strings.Contains(mimeType, "webm"):
		return "audio.webm"
	default:
		return "audio.mp3"
	}
}
