// Package protocol defines the JSON control-frame wire format exchanged
// over the duplex WebSocket transport, grounded on the teacher's
// model.ConnectionCommand wire struct (AI-for-anyone-lingzhi/golang/model
// /connection.go) and supplemented with the original Python project's
// WebsocketMessage schema (tank/backend/src/tank_backend/api/router.py).
package protocol

import (
	"encoding/json"
	"strconv"
)

// FrameType discriminates the control-frame payloads carried over the
// text side of the WebSocket connection. Binary frames carry raw or
// Opus-encoded audio and are never wrapped in a Frame.
type FrameType string

const (
	FrameHello      FrameType = "hello"
	FrameListen     FrameType = "listen"
	FrameIoT        FrameType = "iot"
	FrameInterrupt  FrameType = "interrupt"
	FrameSignal     FrameType = "signal"
	FrameTranscript FrameType = "transcript"
	FrameText       FrameType = "text"
	FrameUpdate     FrameType = "update"
	FrameTTS        FrameType = "tts"
	FrameInput      FrameType = "input"
	FrameError      FrameType = "error"
)

// AudioParams describes the negotiated PCM format for a hello handshake.
type AudioParams struct {
	Format        string `json:"format,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	FrameDuration int    `json:"frame_duration,omitempty"`
}

// Frame is the Go-side representation of one control message. Exactly
// the fields relevant to Type are populated; the rest sit at their zero
// value. Marshal/Unmarshal translate a Frame to and from the literal
// wire envelope — {type, content, is_final, metadata, msg_id,
// session_id} for signal/transcript/text/update/input/interrupt, each
// of hello/listen/iot/tts/error keeping its own flat shape since those
// are this module's own supplemented control types, not part of the
// signal/transcript/text/update contract.
type Frame struct {
	Type      FrameType
	SessionID string
	MsgID     string

	// hello
	Version     int
	AudioParams AudioParams

	// listen
	Mode  string // auto | manual | realtime
	State string

	// iot
	Description interface{}
	States      interface{}

	// signal
	Reason string

	// transcript
	Text       string
	Language   string
	Confidence float64
	IsFinal    bool

	// update (BrainUpdate wire projection)
	UpdateType string // THOUGHT | TOOL_CALL | TOOL_RESULT | TURN_END
	Turn       int
	Index      int
	Delta      string
	ToolName   string
	ToolArgs   string
	ToolStatus string
	ToolResult string

	// tts
	TTSState string // start | sentence_start | stop

	// input (client free text, bypassing ASR) / text (assistant reply delta)
	Content string

	// error
	ErrorKind string
	Message   string

	Metadata map[string]string
}

// wireFrame is the literal JSON envelope written to and read from the
// socket. signal/transcript/text/update/input/interrupt project onto
// {type, session_id, msg_id, content, is_final, metadata}; the
// remaining fields belong to this module's supplemented control types.
type wireFrame struct {
	Type      FrameType         `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	MsgID     string            `json:"msg_id,omitempty"`
	Content   string            `json:"content,omitempty"`
	IsFinal   bool              `json:"is_final,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	Version     int         `json:"version,omitempty"`
	AudioParams AudioParams `json:"audio_params,omitempty"`
	Mode        string      `json:"mode,omitempty"`
	State       string      `json:"state,omitempty"`
	Description interface{} `json:"description,omitempty"`
	States      interface{} `json:"states,omitempty"`
	TTSState    string      `json:"tts_state,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// Marshal encodes f as a single JSON text frame, translating it into
// the wire shape its Type defines.
func Marshal(f Frame) ([]byte, error) {
	return json.Marshal(toWire(f))
}

// Unmarshal decodes a single JSON text frame into a Frame.
func Unmarshal(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, err
	}
	return fromWire(w), nil
}

func toWire(f Frame) wireFrame {
	w := wireFrame{Type: f.Type, SessionID: f.SessionID, MsgID: f.MsgID}
	switch f.Type {
	case FrameSignal:
		w.Content = f.Reason
	case FrameTranscript:
		w.Content = f.Text
		w.IsFinal = f.IsFinal
		w.Metadata = transcriptMetadata(f)
	case FrameText:
		w.Content = f.Content
		w.IsFinal = f.IsFinal
		w.Metadata = f.Metadata
	case FrameUpdate:
		w.Content = updateContent(f)
		w.IsFinal = f.IsFinal
		w.Metadata = updateMetadata(f)
	case FrameInput:
		w.Content = f.Content
	case FrameInterrupt:
		// no payload
	case FrameHello:
		w.Version = f.Version
		w.AudioParams = f.AudioParams
	case FrameListen:
		w.Mode = f.Mode
		w.State = f.State
	case FrameIoT:
		w.Description = f.Description
		w.States = f.States
	case FrameTTS:
		w.TTSState = f.TTSState
		w.Content = f.Text
	case FrameError:
		w.ErrorKind = f.ErrorKind
		w.Message = f.Message
	}
	return w
}

func fromWire(w wireFrame) Frame {
	f := Frame{Type: w.Type, SessionID: w.SessionID, MsgID: w.MsgID}
	switch w.Type {
	case FrameSignal:
		f.Reason = w.Content
	case FrameTranscript:
		f.Text = w.Content
		f.IsFinal = w.IsFinal
		f.Language = w.Metadata["language"]
		if c, err := strconv.ParseFloat(w.Metadata["confidence"], 64); err == nil {
			f.Confidence = c
		}
	case FrameText:
		f.Content = w.Content
		f.IsFinal = w.IsFinal
		f.Metadata = w.Metadata
	case FrameUpdate:
		f.IsFinal = w.IsFinal
		applyUpdateMetadata(&f, w.Metadata)
		applyUpdateContent(&f, w.Content)
	case FrameInput:
		f.Content = w.Content
	case FrameInterrupt:
		// no payload
	case FrameHello:
		f.Version = w.Version
		f.AudioParams = w.AudioParams
	case FrameListen:
		f.Mode = w.Mode
		f.State = w.State
	case FrameIoT:
		f.Description = w.Description
		f.States = w.States
	case FrameTTS:
		f.TTSState = w.TTSState
		f.Text = w.Content
	case FrameError:
		f.ErrorKind = w.ErrorKind
		f.Message = w.Message
	}
	return f
}

func transcriptMetadata(f Frame) map[string]string {
	m := map[string]string{}
	if f.Language != "" {
		m["language"] = f.Language
	}
	if f.Confidence != 0 {
		m["confidence"] = strconv.FormatFloat(f.Confidence, 'f', -1, 64)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// updateContent returns the payload spec §6 carries in an update frame's
// "content" key: the THOUGHT delta, or a finished tool call's result
// text. TOOL_CALL and TURN_END carry nothing there — arguments ride in
// metadata instead.
func updateContent(f Frame) string {
	switch f.UpdateType {
	case "THOUGHT":
		return f.Delta
	case "TOOL_RESULT":
		return f.ToolResult
	default:
		return ""
	}
}

func applyUpdateContent(f *Frame, content string) {
	switch f.UpdateType {
	case "THOUGHT":
		f.Delta = content
	case "TOOL_RESULT":
		f.ToolResult = content
	}
}

func updateMetadata(f Frame) map[string]string {
	m := map[string]string{"update_type": f.UpdateType}
	if f.Turn != 0 {
		m["turn"] = strconv.Itoa(f.Turn)
	}
	if f.Index != 0 {
		m["index"] = strconv.Itoa(f.Index)
	}
	if f.ToolName != "" {
		m["name"] = f.ToolName
	}
	if f.ToolArgs != "" {
		m["arguments"] = f.ToolArgs
	}
	if f.ToolStatus != "" {
		m["status"] = f.ToolStatus
	}
	return m
}

func applyUpdateMetadata(f *Frame, m map[string]string) {
	f.UpdateType = m["update_type"]
	if v, ok := m["turn"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			f.Turn = n
		}
	}
	if v, ok := m["index"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			f.Index = n
		}
	}
	f.ToolName = m["name"]
	f.ToolArgs = m["arguments"]
	f.ToolStatus = m["status"]
}
