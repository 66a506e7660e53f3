// Package tts adapts the TTS HTTP sidecar into a Synthesizer, ported
// from the teacher's utils/tts.ProcessTTS/callTTSService (base64 audio
// frame list, JSON status response) but switched to returning raw PCM16
// for the outbound leg instead of Opus frames, voice selection by
// detected language (tts_voice_en/tts_voice_zh), and a per-request
// timeout instead of the teacher's client with no timeout set.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zbcjackson/tank-server/apperr"
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/model"
)

// Synthesizer converts text into PCM16 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req model.TTSRequest) (model.AudioChunk, error)
}

// HTTPSynthesizer calls a local TTS sidecar over HTTP.
type HTTPSynthesizer struct {
	client        *http.Client
	url           string
	sampleRate    int
	voiceEN       string
	voiceZH       string
}

// NewHTTPSynthesizer builds a Synthesizer from TTS configuration.
func NewHTTPSynthesizer(cfg config.TTSConfig, sampleRateOut int) *HTTPSynthesizer {
	timeout := cfg.ChunkTimeoutS
	if timeout <= 0 {
		timeout = 15
	}
	return &HTTPSynthesizer{
		client:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
		url:        cfg.ServerURL,
		sampleRate: sampleRateOut,
		voiceEN:    cfg.VoiceEN,
		voiceZH:    cfg.VoiceZH,
	}
}

type ttsRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
}

type ttsResponse struct {
	Status    string  `json:"status"`
	AudioData string  `json:"audio_data"` // base64-encoded raw PCM16
	Duration  float64 `json:"duration"`
}

func (t *HTTPSynthesizer) voiceFor(lang model.Language) string {
	if lang == model.LanguageZH {
		return t.voiceZH
	}
	return t.voiceEN
}

// Synthesize posts text to the TTS sidecar and decodes the returned
// base64 PCM16 payload into an AudioChunk.
func (t *HTTPSynthesizer) Synthesize(ctx context.Context, req model.TTSRequest) (model.AudioChunk, error) {
	voice := req.VoiceHint
	if voice == "" {
		voice = t.voiceFor(req.Language)
	}

	reqBody := ttsRequest{Text: req.Text, Voice: voice, SampleRate: t.sampleRate}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, err, "encode tts request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(jsonData))
	if err != nil {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, err, "build tts request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, err, apperr.ServiceUnavailableMessage)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, err, apperr.ServiceUnavailableMessage)
	}
	if resp.StatusCode != http.StatusOK {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, fmt.Errorf("status %d: %s", resp.StatusCode, body), apperr.ServiceUnavailableMessage)
	}

	var tr ttsResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, err, "decode tts response")
	}
	if tr.Status != "success" {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, fmt.Errorf("tts status %q", tr.Status), apperr.ServiceUnavailableMessage)
	}

	raw, err := base64.StdEncoding.DecodeString(tr.AudioData)
	if err != nil {
		return model.AudioChunk{}, apperr.New(apperr.KindTTS, err, "decode tts audio payload")
	}

	return model.AudioChunk{PCM: bytesToPCM16(raw), SampleRate: t.sampleRate}, nil
}

func bytesToPCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return out
}
