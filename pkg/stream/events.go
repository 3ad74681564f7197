// Package stream defines the wire protocol spoken over the duplex connection
// to the remote speech model, plus the codec used to read and write it.
//
// Every outbound event is a single JSON object wrapped in an {"event":{...}}
// envelope with exactly one kind key set. Inbound bytes carry zero or more
// complete objects of the same envelope shape per read, with no alignment
// guarantee between object boundaries and read boundaries — see [Decoder].
package stream

import (
	"encoding/base64"
)

// Audio format constants for the bidirectional stream. The model consumes
// 16 kHz LPCM and produces 24 kHz LPCM, both 16-bit mono, base64-encoded
// on the wire.
const (
	InputSampleRateHz  = 16000
	OutputSampleRateHz = 24000
	SampleSizeBits     = 16
	ChannelCount       = 1
)

// Default inference parameters sent in the sessionStart event.
const (
	DefaultMaxTokens   = 1024
	DefaultTopP        = 0.9
	DefaultTemperature = 0.7
)

// FeminineVoices and MasculineVoices are the voice identifiers accepted by
// the model. When no explicit voice is requested a session picks at random
// from the feminine pool.
var (
	FeminineVoices  = []string{"amy", "tiffany", "lupe"}
	MasculineVoices = []string{"matthew", "carlos"}
)

// Role identifies the speaker of a content block.
type Role string

const (
	RoleSystem    Role = "SYSTEM"
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// ── Outbound events ────────────────────────────────────────────────────────────

// Event is one outbound protocol event in its envelope form. Exactly one of
// the body's kind fields is non-nil. Construct events with the New* builders
// rather than filling the struct directly.
type Event struct {
	Event eventBody `json:"event"`
}

type eventBody struct {
	SessionStart *sessionStart `json:"sessionStart,omitempty"`
	PromptStart  *promptStart  `json:"promptStart,omitempty"`
	ContentStart *contentStart `json:"contentStart,omitempty"`
	TextInput    *textInput    `json:"textInput,omitempty"`
	AudioInput   *audioInput   `json:"audioInput,omitempty"`
	ContentEnd   *contentEnd   `json:"contentEnd,omitempty"`
	PromptEnd    *promptEnd    `json:"promptEnd,omitempty"`
	SessionEnd   *sessionEnd   `json:"sessionEnd,omitempty"`
}

// Kind returns the event's kind key, e.g. "audioInput". Used for logging.
func (e Event) Kind() string {
	switch b := e.Event; {
	case b.SessionStart != nil:
		return "sessionStart"
	case b.PromptStart != nil:
		return "promptStart"
	case b.ContentStart != nil:
		return "contentStart"
	case b.TextInput != nil:
		return "textInput"
	case b.AudioInput != nil:
		return "audioInput"
	case b.ContentEnd != nil:
		return "contentEnd"
	case b.PromptEnd != nil:
		return "promptEnd"
	case b.SessionEnd != nil:
		return "sessionEnd"
	}
	return "unknown"
}

type sessionStart struct {
	InferenceConfiguration inferenceConfiguration `json:"inferenceConfiguration"`
}

type inferenceConfiguration struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

type promptStart struct {
	PromptName              string             `json:"promptName"`
	TextOutputConfiguration textConfiguration  `json:"textOutputConfiguration"`
	AudioOutputConfiguration audioOutputConfig `json:"audioOutputConfiguration"`
}

type textConfiguration struct {
	MediaType string `json:"mediaType"`
}

type audioOutputConfig struct {
	MediaType      string `json:"mediaType"`
	SampleRateHz   int    `json:"sampleRateHertz"`
	SampleSizeBits int    `json:"sampleSizeBits"`
	ChannelCount   int    `json:"channelCount"`
	VoiceID        string `json:"voiceId"`
	Encoding       string `json:"encoding"`
	AudioType      string `json:"audioType"`
}

type audioInputConfig struct {
	MediaType      string `json:"mediaType"`
	SampleRateHz   int    `json:"sampleRateHertz"`
	SampleSizeBits int    `json:"sampleSizeBits"`
	ChannelCount   int    `json:"channelCount"`
	AudioType      string `json:"audioType"`
	Encoding       string `json:"encoding"`
}

type contentStart struct {
	PromptName             string             `json:"promptName"`
	ContentName            string             `json:"contentName"`
	Type                   string             `json:"type"`
	Interactive            bool               `json:"interactive"`
	Role                   Role               `json:"role"`
	TextInputConfiguration *textConfiguration `json:"textInputConfiguration,omitempty"`
	AudioInputConfiguration *audioInputConfig `json:"audioInputConfiguration,omitempty"`
}

type textInput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

type audioInput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"` // base64 LPCM
}

type contentEnd struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
}

type promptEnd struct {
	PromptName string `json:"promptName"`
}

type sessionEnd struct{}

// NewSessionStart builds the sessionStart event with the default inference
// configuration.
func NewSessionStart() Event {
	return Event{Event: eventBody{SessionStart: &sessionStart{
		InferenceConfiguration: inferenceConfiguration{
			MaxTokens:   DefaultMaxTokens,
			TopP:        DefaultTopP,
			Temperature: DefaultTemperature,
		},
	}}}
}

// NewPromptStart builds the promptStart event, declaring the text and audio
// output configuration for the prompt. voiceID selects the synthesised voice.
func NewPromptStart(promptID, voiceID string) Event {
	return Event{Event: eventBody{PromptStart: &promptStart{
		PromptName:              promptID,
		TextOutputConfiguration: textConfiguration{MediaType: "text/plain"},
		AudioOutputConfiguration: audioOutputConfig{
			MediaType:      "audio/lpcm",
			SampleRateHz:   OutputSampleRateHz,
			SampleSizeBits: SampleSizeBits,
			ChannelCount:   ChannelCount,
			VoiceID:        voiceID,
			Encoding:       "base64",
			AudioType:      "SPEECH",
		},
	}}}
}

// NewContentStartText builds a contentStart event opening an interactive TEXT
// block for the given role.
func NewContentStartText(promptID, contentID string, role Role) Event {
	return Event{Event: eventBody{ContentStart: &contentStart{
		PromptName:             promptID,
		ContentName:            contentID,
		Type:                   "TEXT",
		Interactive:            true,
		Role:                   role,
		TextInputConfiguration: &textConfiguration{MediaType: "text/plain"},
	}}}
}

// NewContentStartAudio builds a contentStart event opening an interactive
// AUDIO block attributed to the user.
func NewContentStartAudio(promptID, contentID string) Event {
	return Event{Event: eventBody{ContentStart: &contentStart{
		PromptName:  promptID,
		ContentName: contentID,
		Type:        "AUDIO",
		Interactive: true,
		Role:        RoleUser,
		AudioInputConfiguration: &audioInputConfig{
			MediaType:      "audio/lpcm",
			SampleRateHz:   InputSampleRateHz,
			SampleSizeBits: SampleSizeBits,
			ChannelCount:   ChannelCount,
			AudioType:      "SPEECH",
			Encoding:       "base64",
		},
	}}}
}

// NewTextInput builds a textInput event carrying content into an open TEXT block.
func NewTextInput(promptID, contentID, content string) Event {
	return Event{Event: eventBody{TextInput: &textInput{
		PromptName:  promptID,
		ContentName: contentID,
		Content:     content,
	}}}
}

// NewAudioInput builds an audioInput event. The raw PCM chunk is
// base64-encoded here; callers pass unencoded bytes.
func NewAudioInput(promptID, contentID string, chunk []byte) Event {
	return Event{Event: eventBody{AudioInput: &audioInput{
		PromptName:  promptID,
		ContentName: contentID,
		Content:     base64.StdEncoding.EncodeToString(chunk),
	}}}
}

// NewContentEnd builds the contentEnd event closing an open content block.
func NewContentEnd(promptID, contentID string) Event {
	return Event{Event: eventBody{ContentEnd: &contentEnd{
		PromptName:  promptID,
		ContentName: contentID,
	}}}
}

// NewPromptEnd builds the promptEnd event.
func NewPromptEnd(promptID string) Event {
	return Event{Event: eventBody{PromptEnd: &promptEnd{PromptName: promptID}}}
}

// NewSessionEnd builds the sessionEnd event.
func NewSessionEnd() Event {
	return Event{Event: eventBody{SessionEnd: &sessionEnd{}}}
}

// ── Inbound events ─────────────────────────────────────────────────────────────

// Inbound is a decoded event received from the model. It is a closed union:
// the only implementations are [ContentStart], [TextOutput], [AudioOutput]
// and [Unknown]. Dispatch with a type switch.
type Inbound interface {
	inbound()
}

// ContentStart announces the speaker role governing the textOutput and
// audioOutput events that follow it.
type ContentStart struct {
	Role Role
	Type string
}

// TextOutput carries a text fragment attributed to the current speaker.
type TextOutput struct {
	Content string
}

// AudioOutput carries a base64-encoded LPCM chunk of synthesised speech.
type AudioOutput struct {
	Content string
}

// Unknown is any event kind this package does not handle. Unknown events are
// forwarded so callers can log them, but carry no payload.
type Unknown struct {
	Kind string
}

func (ContentStart) inbound() {}
func (TextOutput) inbound()   {}
func (AudioOutput) inbound()  {}
func (Unknown) inbound()      {}

// Audio decodes the base64 payload. Returns the raw PCM bytes.
func (a AudioOutput) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Content)
}
