package protocol

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var frameTypes = []FrameType{
	FrameHello, FrameListen, FrameIoT, FrameInterrupt, FrameSignal,
	FrameTranscript, FrameText, FrameUpdate, FrameTTS, FrameInput, FrameError,
}

// genFrame builds a Frame with exactly the fields real code ever sets for
// the sampled Type, so a round trip through the wire envelope is
// guaranteed lossless.
func genFrame(t *rapid.T) Frame {
	typ := rapid.SampledFrom(frameTypes).Draw(t, "type")
	f := Frame{
		Type:      typ,
		SessionID: rapid.StringMatching(`[a-z0-9-]{0,36}`).Draw(t, "session_id"),
		MsgID:     rapid.StringMatching(`[a-z0-9-]{0,36}`).Draw(t, "msg_id"),
	}

	switch typ {
	case FrameSignal:
		f.Reason = rapid.SampledFrom([]string{"ready", "processing_started", "processing_ended"}).Draw(t, "reason")
	case FrameTranscript:
		f.Text = rapid.String().Draw(t, "text")
		f.Language = rapid.SampledFrom([]string{"zh", "en", "unknown", ""}).Draw(t, "language")
		f.Confidence = rapid.Float64Range(0, 1).Draw(t, "confidence")
		f.IsFinal = rapid.Bool().Draw(t, "is_final")
	case FrameText:
		f.Content = rapid.String().Draw(t, "content")
		f.IsFinal = rapid.Bool().Draw(t, "is_final")
		f.Metadata = map[string]string{"turn": strconv.Itoa(rapid.IntRange(0, 50).Draw(t, "turn"))}
	case FrameUpdate:
		f.Turn = rapid.IntRange(1, 50).Draw(t, "turn")
		kind := rapid.SampledFrom([]string{"THOUGHT", "TOOL_CALL", "TOOL_RESULT", "TURN_END"}).Draw(t, "update_type")
		f.UpdateType = kind
		switch kind {
		case "THOUGHT":
			f.Delta = rapid.String().Draw(t, "delta")
		case "TOOL_CALL":
			f.Index = rapid.IntRange(1, 10).Draw(t, "index")
			f.ToolName = rapid.StringMatching(`[a-z_]{1,20}`).Draw(t, "tool_name")
			f.ToolArgs = rapid.String().Draw(t, "tool_args")
		case "TOOL_RESULT":
			f.Index = rapid.IntRange(1, 10).Draw(t, "index")
			f.ToolName = rapid.StringMatching(`[a-z_]{1,20}`).Draw(t, "tool_name")
			f.ToolResult = rapid.String().Draw(t, "tool_result")
			f.ToolStatus = rapid.SampledFrom([]string{"success", "error"}).Draw(t, "tool_status")
		}
	case FrameInput:
		f.Content = rapid.String().Draw(t, "content")
	case FrameInterrupt:
		// no payload
	case FrameHello:
		f.Version = rapid.IntRange(0, 5).Draw(t, "version")
		f.AudioParams = AudioParams{
			Format:     "pcm16",
			SampleRate: rapid.SampledFrom([]int{16000, 24000}).Draw(t, "sample_rate"),
			Channels:   1,
		}
	case FrameListen:
		f.Mode = rapid.SampledFrom([]string{"auto", "manual", "realtime"}).Draw(t, "mode")
		f.State = rapid.SampledFrom([]string{"start", "stop", ""}).Draw(t, "state")
	case FrameTTS:
		f.TTSState = rapid.SampledFrom([]string{"start", "sentence_start", "stop"}).Draw(t, "tts_state")
		f.Text = rapid.String().Draw(t, "text")
	case FrameError:
		f.ErrorKind = rapid.StringMatching(`[a-z_]{0,20}`).Draw(t, "error_kind")
		f.Message = rapid.String().Draw(t, "message")
	}
	return f
}

// TestFrameRoundTrip checks that every Frame value survives a Marshal
// followed by Unmarshal unchanged (spec §8 wire round-trip property).
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := genFrame(rt)

		data, err := Marshal(f)
		require.NoError(rt, err)

		got, err := Unmarshal(data)
		require.NoError(rt, err)

		assert.Equal(rt, f, got)
	})
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestMarshalOmitsEmptyFields(t *testing.T) {
	data, err := Marshal(Frame{Type: FrameInterrupt})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\"content\"")
	assert.Contains(t, string(data), "\"type\":\"interrupt\"")
}

// TestTranscriptFrameWireShape pins down spec §6's literal envelope:
// content carries the text, language/confidence ride under metadata.
func TestTranscriptFrameWireShape(t *testing.T) {
	data, err := Marshal(Frame{
		Type:       FrameTranscript,
		Text:       "hello",
		Language:   "zh",
		Confidence: 0.9,
		IsFinal:    true,
	})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"content":"hello"`)
	assert.Contains(t, s, `"is_final":true`)
	assert.Contains(t, s, `"language":"zh"`)
	assert.Contains(t, s, `"confidence":"0.9"`)
	assert.NotContains(t, s, `"text":`)
}

// TestUpdateFrameWireShape pins down spec §6's update envelope: the
// THOUGHT delta rides in content, everything else sits under metadata.
func TestUpdateFrameWireShape(t *testing.T) {
	data, err := Marshal(Frame{
		Type:       FrameUpdate,
		MsgID:      "assistant_1",
		Turn:       100,
		UpdateType: "THOUGHT",
		Delta:      "thinking...",
	})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"content":"thinking..."`)
	assert.Contains(t, s, `"update_type":"THOUGHT"`)
	assert.Contains(t, s, `"turn":"100"`)
	assert.NotContains(t, s, `"delta":`)
}
