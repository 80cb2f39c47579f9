package events

// Client → server envelopes. Each constructor is a pure builder: it mints a
// fresh event_id and returns the envelope without touching the wire.

type SessionUpdateEvent struct {
	BaseEvent
	Session SessionUpdate `json:"session"`
}

func NewSessionUpdate(s SessionUpdate) SessionUpdateEvent {
	return SessionUpdateEvent{
		BaseEvent: NewBaseEvent("session.update"),
		Session:   s,
	}
}

type ConversationItemCreateEvent struct {
	BaseEvent
	Item ConversationItem `json:"item"`
}

// NewUserMessage builds a conversation.item.create carrying literal user
// text, e.g. the synthetic greeting sent right after session.created.
func NewUserMessage(text string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		BaseEvent: NewBaseEvent("conversation.item.create"),
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ConversationItemContent{
				{Type: "input_text", Text: text},
			},
		},
	}
}

type ResponseCreateEvent struct {
	BaseEvent
	Response ResponseCreatePayload `json:"response"`
}

func NewResponseCreate() ResponseCreateEvent {
	return ResponseCreateEvent{
		BaseEvent: NewBaseEvent("response.create"),
		Response:  ResponseCreatePayload{},
	}
}

type ResponseCancelEvent struct {
	BaseEvent
}

func NewResponseCancel() ResponseCancelEvent {
	return ResponseCancelEvent{BaseEvent: NewBaseEvent("response.cancel")}
}

type InputAudioBufferAppendEvent struct {
	BaseEvent
	Audio string `json:"audio"`
}

// NewInputAudioAppend wraps one base64 PCM16 chunk for the input buffer.
func NewInputAudioAppend(audioB64 string) InputAudioBufferAppendEvent {
	return InputAudioBufferAppendEvent{
		BaseEvent: NewBaseEvent("input_audio_buffer.append"),
		Audio:     audioB64,
	}
}

type InputAudioBufferCommitEvent struct {
	BaseEvent
}

func NewInputAudioCommit() InputAudioBufferCommitEvent {
	return InputAudioBufferCommitEvent{BaseEvent: NewBaseEvent("input_audio_buffer.commit")}
}

type InputAudioBufferClearEvent struct {
	BaseEvent
}

func NewInputAudioClear() InputAudioBufferClearEvent {
	return InputAudioBufferClearEvent{BaseEvent: NewBaseEvent("input_audio_buffer.clear")}
}

// ConversationItem is the inner "item" object.
type ConversationItem struct {
	ID      string                    `json:"id,omitempty"`
	Type    string                    `json:"type"`
	Role    string                    `json:"role,omitempty"`
	Content []ConversationItemContent `json:"content,omitempty"`
}

type ConversationItemContent struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type ResponseCreatePayload struct {
	Modalities        []string    `json:"modalities,omitempty"`
	Instructions      string      `json:"instructions,omitempty"`
	Voice             string      `json:"voice,omitempty"`
	OutputAudioFormat AudioFormat `json:"output_audio_format,omitempty"`
	Temperature       float64     `json:"temperature,omitempty"`
	MaxOutputTokens   int         `json:"max_output_tokens,omitempty"`
}
