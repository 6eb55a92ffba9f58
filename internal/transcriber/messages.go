package transcriber

import "strings"

// Outbound message types
const (
	TypeSessionUpdate      = "session.update"
	TypeAudioAppend        = "input_audio_buffer.append"
	TypeAudioCommit        = "input_audio_buffer.commit"
	TypeResponseCreate     = "response.create"
	TypeError              = "error"
	AudioFormatPCM16       = "pcm16"
	DefaultInputSampleRate = 16000
)

// completionTypes finalize the current utterance.
var completionTypes = map[string]bool{
	"response.done":                  true,
	"response.completed":             true,
	"response.text.done":             true,
	"response.output_text.done":      true,
	"response.audio_transcript.done": true,
	"conversation.item.input_audio_transcription.completed": true,
}

type audioFormat struct {
	Type         string `json:"type"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

type sessionParams struct {
	InputAudioFormat audioFormat `json:"input_audio_format"`
	Language         string      `json:"language,omitempty"`
}

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type audioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type commandMessage struct {
	Type string `json:"type"`
}

type responseParams struct {
	Modalities []string `json:"modalities"`
}

type responseCreateMessage struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

// serverEvent covers the fields of every inbound message we act on.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`

	Response *struct {
		Output []struct {
			Content []struct {
				Text       string `json:"text"`
				Transcript string `json:"transcript"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response,omitempty"`
}

type eventKind int

const (
	eventIgnored eventKind = iota
	eventDelta
	eventCompletion
	eventSnapshot
	eventError
)

// classify maps a message type tag to how the transcript buffer is updated.
// Order matters: delta wins over completion and snapshot.
func classify(messageType string) eventKind {
	switch {
	case strings.Contains(messageType, "delta") || strings.HasSuffix(messageType, ".partial"):
		return eventDelta
	case completionTypes[messageType]:
		return eventCompletion
	case strings.Contains(messageType, "snapshot") || strings.HasSuffix(messageType, ".content"):
		return eventSnapshot
	case messageType == TypeError:
		return eventError
	default:
		return eventIgnored
	}
}

// finalText picks the best final transcript carried by a completion event.
func (e *serverEvent) finalText() string {
	if text := strings.TrimSpace(e.Text); text != "" {
		return e.Text
	}
	if text := strings.TrimSpace(e.Transcript); text != "" {
		return e.Transcript
	}
	if e.Response == nil {
		return ""
	}

	var b strings.Builder
	for _, output := range e.Response.Output {
		for _, content := range output.Content {
			switch {
			case content.Text != "":
				b.WriteString(content.Text)
			case content.Transcript != "":
				b.WriteString(content.Transcript)
			}
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return ""
	}
	return b.String()
}

func (e *serverEvent) deltaText() string {
	if e.Delta != "" {
		return e.Delta
	}
	return e.Text
}

func (e *serverEvent) snapshotText() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Transcript
}
