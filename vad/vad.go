// Package vad implements local voice-activity detection: an
// energy-threshold Detector and an Opus-or-raw-PCM frame decoder. The
// decode-with-fallback behavior is ported directly from the teacher's
// utils/vad.decodeOpus (AI-for-anyone-lingzhi/golang/utils/vad/vad.go),
// which attempts an Opus decode and falls back to the raw bytes on
// failure; the energy threshold replaces the teacher's call out to a
// Python Silero VAD sidecar with an in-process decision so the
// segmenter never blocks on an external service.
package vad

import (
	"encoding/binary"
	"fmt"
	"math"

	"gopkg.in/hraban/opus.v2"
)

// Detector classifies one frame of PCM as containing voice or not.
type Detector interface {
	IsVoice(samples []float32) bool
}

// EnergyDetector flags a frame as voiced when its RMS energy exceeds a
// configured threshold (spec §4.2: local VAD, no external dependency).
type EnergyDetector struct {
	Threshold float64
}

// NewEnergyDetector builds a Detector with the given RMS threshold.
// Typical values sit in [0.005, 0.05] for normalized float32 PCM.
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = 0.01
	}
	return &EnergyDetector{Threshold: threshold}
}

func (d *EnergyDetector) IsVoice(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return rms >= d.Threshold
}

// decoderSampleRate and decoderChannels match the teacher's fixed Opus
// decode parameters (16kHz mono); inbound audio negotiated at a
// different rate is never Opus-encoded by this server's clients.
const (
	decoderSampleRate = 16000
	decoderChannels   = 1
	opusFrameSamples  = 960
)

// DecodeFrame attempts an Opus decode of data and falls back to
// interpreting it as raw little-endian PCM16 on failure, exactly as the
// teacher's processVAD does when decodeOpus errors.
func DecodeFrame(data []byte) ([]float32, error) {
	if pcm, err := decodeOpus(data); err == nil {
		return pcm16ToFloat32(pcm), nil
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("odd-length raw PCM payload: %d bytes", len(data))
	}
	return rawPCM16ToFloat32(data), nil
}

func decodeOpus(data []byte) ([]int16, error) {
	decoder, err := opus.NewDecoder(decoderSampleRate, decoderChannels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	pcmBuffer := make([]int16, opusFrameSamples)
	n, err := decoder.Decode(data, pcmBuffer)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return pcmBuffer[:n], nil
}

func pcm16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / 32768.0
	}
	return out
}

func rawPCM16ToFloat32(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		out[i] = float32(v) / 32768.0
	}
	return out
}
