package audio

import (
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/vad"
)

// DecodeInbound turns a raw WebSocket binary payload into an AudioFrame,
// decoding Opus when possible and falling back to raw PCM16 otherwise
// (vad.DecodeFrame), and stamping it with the running sample clock.
func DecodeInbound(data []byte, sampleRate int, tStart float64) (model.AudioFrame, error) {
	samples, err := vad.DecodeFrame(data)
	if err != nil {
		return model.AudioFrame{}, err
	}
	return model.AudioFrame{Samples: samples, SampleRate: sampleRate, TStart: tStart}, nil
}
