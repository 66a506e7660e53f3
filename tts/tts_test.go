package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSynthesizer_Success(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0x02, 0x00}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "zh-CN-XiaoxiaoNeural", req.Voice)
		_ = json.NewEncoder(w).Encode(ttsResponse{Status: "success", AudioData: base64.StdEncoding.EncodeToString(pcm), Duration: 0.1})
	}))
	defer srv.Close()

	synth := NewHTTPSynthesizer(config.TTSConfig{ServerURL: srv.URL, VoiceZH: "zh-CN-XiaoxiaoNeural", ChunkTimeoutS: 5}, 24000)
	chunk, err := synth.Synthesize(context.Background(), model.TTSRequest{Text: "你好", Language: model.LanguageZH})
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2}, chunk.PCM)
	assert.Equal(t, 24000, chunk.SampleRate)
}

func TestHTTPSynthesizer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ttsResponse{Status: "error"})
	}))
	defer srv.Close()

	synth := NewHTTPSynthesizer(config.TTSConfig{ServerURL: srv.URL, ChunkTimeoutS: 5}, 24000)
	_, err := synth.Synthesize(context.Background(), model.TTSRequest{Text: "hi", Language: model.LanguageEN})
	assert.Error(t, err)
}

func TestFadeOut_RampsTrailingSamplesToZero(t *testing.T) {
	pcm := make([]int16, 500)
	for i := range pcm {
		pcm[i] = 1000
	}
	fadeOut(pcm)
	assert.Equal(t, int16(1000), pcm[0])
	assert.Equal(t, int16(0), pcm[len(pcm)-1])
}

func TestFadeIn_RampsLeadingSamplesFromZero(t *testing.T) {
	pcm := make([]int16, 500)
	for i := range pcm {
		pcm[i] = 1000
	}
	fadeIn(pcm)
	assert.Equal(t, int16(0), pcm[0])
	assert.Equal(t, int16(1000), pcm[len(pcm)-1])
}

func TestFadeIn_ShorterThanRampStillRampsWithoutPanicking(t *testing.T) {
	pcm := []int16{1000, 1000, 1000}
	assert.NotPanics(t, func() { fadeIn(pcm) })
	assert.Equal(t, int16(0), pcm[0])
}
