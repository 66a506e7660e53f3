// Package asr adapts the ASR HTTP sidecar into the Transcriber interface
// the Brain pipeline depends on. Ported from the teacher's
// utils/asr.ProcessASR/callASRService (base64 payload, JSON
// status/text response) but generalized: the sidecar is now addressed
// per-Utterance instead of through a mutex-guarded package singleton,
// language comes back on the wire instead of being a fixed config
// value, and whisper_model_size/asr_engine select which backend the
// sidecar should run.
package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/zbcjackson/tank-server/apperr"
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/model"
)

// Transcriber converts a finished Utterance into a Transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, u model.Utterance) (model.Transcript, error)
}

// HTTPTranscriber calls out to a local ASR sidecar over HTTP, mirroring
// the teacher's single-endpoint POST-with-base64-audio protocol.
type HTTPTranscriber struct {
	client          *http.Client
	url             string
	engine          string
	whisperModelSize string
	defaultLanguage  model.Language
}

// NewHTTPTranscriber builds a Transcriber from ASR configuration.
func NewHTTPTranscriber(cfg config.ASRConfig, defaultLanguage model.Language) *HTTPTranscriber {
	timeout := cfg.TimeoutS
	if timeout <= 0 {
		timeout = 10
	}
	return &HTTPTranscriber{
		client:           &http.Client{Timeout: time.Duration(timeout) * time.Second},
		url:              cfg.ServerURL,
		engine:           cfg.Engine,
		whisperModelSize: cfg.WhisperModelSize,
		defaultLanguage:  defaultLanguage,
	}
}

type asrRequest struct {
	AudioData  string `json:"audio_data"`
	SampleRate int    `json:"sample_rate"`
	Engine     string `json:"engine"`
	ModelSize  string `json:"model_size"`
}

type asrResponse struct {
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Transcribe posts the utterance's PCM as base64 JSON and parses the
// sidecar's recognized text, language, and confidence.
func (a *HTTPTranscriber) Transcribe(ctx context.Context, u model.Utterance) (model.Transcript, error) {
	if len(u.Samples) == 0 {
		return model.Transcript{}, apperr.New(apperr.KindASR, nil, "empty utterance")
	}

	pcm := floatToPCM16Bytes(u.Samples)
	reqBody := asrRequest{
		AudioData:  base64.StdEncoding.EncodeToString(pcm),
		SampleRate: u.SampleRate,
		Engine:     a.engine,
		ModelSize:  a.whisperModelSize,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return model.Transcript{}, apperr.New(apperr.KindASR, err, "encode asr request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(jsonData))
	if err != nil {
		return model.Transcript{}, apperr.New(apperr.KindASR, err, "build asr request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return transcriptError("transport"), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcriptError("transport"), nil
	}

	if resp.StatusCode != http.StatusOK {
		return transcriptError("server_error"), nil
	}

	var ar asrResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return transcriptError("decode"), nil
	}
	if ar.Status != "success" {
		return transcriptError(ar.Status), nil
	}

	lang := model.Language(ar.Language)
	if lang == "" {
		lang = a.defaultLanguage
	}

	return model.Transcript{
		Text:       ar.Text,
		Language:   lang,
		Confidence: ar.Confidence,
		IsFinal:    true,
	}, nil
}

func transcriptError(kind string) model.Transcript {
	return model.Transcript{Err: &model.TranscriptError{Kind: kind}}
}

func floatToPCM16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(clampFloat(s) * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func clampFloat(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
