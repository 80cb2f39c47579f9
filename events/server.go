package events

import "fmt"

type AudioFormat string

const (
	AudioFormatPCM16 AudioFormat = "pcm16"
)

// EventType is the closed set of server event types the session reducer
// understands. Anything else is discarded.
type EventType string

const (
	TypeError                         EventType = "error"
	TypeSessionCreated                EventType = "session.created"
	TypeSessionUpdated                EventType = "session.updated"
	TypeConversationItemCreated       EventType = "conversation.item.created"
	TypeInputTranscriptionCompleted   EventType = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated               EventType = "response.created"
	TypeResponseDone                  EventType = "response.done"
	TypeResponseAudioTranscriptDelta  EventType = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone   EventType = "response.audio_transcript.done"
	TypeResponseAudioDelta            EventType = "response.audio.delta"
	TypeResponseAudioDone             EventType = "response.audio.done"
	TypeInputAudioBufferSpeechStarted EventType = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped EventType = "input_audio_buffer.speech_stopped"
)

type ErrorEvent struct {
	BaseEvent
	ErrorDetail ErrorDetail `json:"error"`
}

func (e *ErrorEvent) Error() string {
	return e.ErrorDetail.Error()
}

// ErrorDetail holds the details of the error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventID string `json:"event_id"`
	ItemID  string `json:"item_id"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type SessionCreatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type SessionUpdatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type ConversationItemCreatedEvent struct {
	BaseEvent
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

type InputTranscriptionCompletedEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type ResponseCreatedEvent struct {
	BaseEvent
	Response ResponsePayload `json:"response"`
}

type ResponseDoneEvent struct {
	BaseEvent
	Response ResponsePayload `json:"response"`
}

type ResponsePayload struct {
	ID     string               `json:"id"`
	Status string               `json:"status"`
	Output []ResponseOutputItem `json:"output,omitempty"`
}

type ResponseOutputItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

type SpeechStartedEvent struct {
	BaseEvent
	ItemID       string `json:"item_id,omitempty"`
	AudioStartMS int    `json:"audio_start_ms,omitempty"`
}

type SpeechStoppedEvent struct {
	BaseEvent
	ItemID     string `json:"item_id,omitempty"`
	AudioEndMS int    `json:"audio_end_ms,omitempty"`
}

type ResponseAudioDeltaEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
	Delta       string `json:"delta"`
}

type ResponseAudioDoneEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
}

type ResponseAudioTranscriptDeltaEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
	Delta       string `json:"delta"`
}

type ResponseAudioTranscriptDoneEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
	Transcript  string `json:"transcript"`
}
