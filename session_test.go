package voicert

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memovoice/voicert-go/events"
	"github.com/memovoice/voicert-go/pcm"
)

func newTestProcessor() *Processor {
	return NewProcessor(ProcessorConfig{
		Session:  events.SessionUpdate{Voice: "linjiajiejie"},
		Greeting: "Hello!",
	})
}

func frame(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	if _, ok := fields["event_id"]; !ok {
		fields["event_id"] = "evt_test"
	}
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func startSession(t *testing.T, p *Processor) {
	t.Helper()
	eff := p.Apply(frame(t, map[string]any{
		"type":    "session.created",
		"session": map[string]any{"id": "sess_1"},
	}))
	require.Len(t, eff.Commands, 3)
}

func createAssistantItem(t *testing.T, p *Processor, id string) {
	t.Helper()
	p.Apply(frame(t, map[string]any{
		"type":             "conversation.item.created",
		"previous_item_id": "item_prev",
		"item":             map[string]any{"id": id, "type": "message", "role": "assistant"},
	}))
	require.NotNil(t, p.Session().Item(id))
}

// session.created must pipeline session.update, the greeting item and
// response.create back-to-back, without waiting for session.updated.
func TestSessionCreatedPipelinesSetupCommands(t *testing.T) {
	p := newTestProcessor()

	eff := p.Apply(frame(t, map[string]any{
		"type":    "session.created",
		"session": map[string]any{"id": "sess_1"},
	}))

	require.NotNil(t, p.Session())
	require.Equal(t, "sess_1", p.Session().ID)

	require.Len(t, eff.Commands, 3)

	upd, ok := eff.Commands[0].(events.SessionUpdateEvent)
	require.True(t, ok)
	require.Equal(t, "session.update", upd.Type)
	require.Equal(t, "linjiajiejie", upd.Session.Voice)

	greet, ok := eff.Commands[1].(events.ConversationItemCreateEvent)
	require.True(t, ok)
	require.Equal(t, "conversation.item.create", greet.Type)
	require.Equal(t, "user", greet.Item.Role)
	require.Equal(t, "Hello!", greet.Item.Content[0].Text)

	resp, ok := eff.Commands[2].(events.ResponseCreateEvent)
	require.True(t, ok)
	require.Equal(t, "response.create", resp.Type)
}

func TestSessionUpdatedIsANoOp(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)

	eff := p.Apply(frame(t, map[string]any{"type": "session.updated", "session": map[string]any{}}))
	require.Empty(t, eff.Commands)
	require.False(t, eff.Interrupt)
	require.Nil(t, eff.Audio)
}

func TestUserItemCreatedTakesInlineTranscript(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)

	p.Apply(frame(t, map[string]any{
		"type": "conversation.item.created",
		"item": map[string]any{
			"id":   "item_u1",
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_audio", "transcript": "what did I do last summer"},
			},
		},
	}))

	it := p.Session().Item("item_u1")
	require.NotNil(t, it)
	require.Equal(t, "user", it.Role)
	require.Equal(t, "what did I do last summer", it.TextFinal)
}

func TestDuplicateItemCreatedIsIgnored(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")
	createAssistantItem(t, p, "item_1")

	require.Len(t, p.Session().Items, 1)
}

func TestTranscriptDeltaThenDone(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")

	p.Apply(frame(t, map[string]any{
		"type": "response.audio_transcript.delta", "item_id": "item_1", "delta": "Last ",
	}))
	it := p.Session().Item("item_1")
	require.True(t, it.Streaming)
	require.Equal(t, "Last ", it.TextDelta)

	p.Apply(frame(t, map[string]any{
		"type": "response.audio_transcript.done", "item_id": "item_1", "transcript": "Last summer you went hiking.",
	}))
	require.False(t, it.Streaming)
	require.Empty(t, it.TextDelta)
	require.Equal(t, "Last summer you went hiking.", it.TextFinal)
}

// Once textFinal is set, a straggler delta must not flip the item back to
// streaming.
func TestTextFinalizationIsTerminal(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")

	p.Apply(frame(t, map[string]any{
		"type": "response.audio_transcript.done", "item_id": "item_1", "transcript": "done.",
	}))
	p.Apply(frame(t, map[string]any{
		"type": "response.audio_transcript.delta", "item_id": "item_1", "delta": "straggler",
	}))

	it := p.Session().Item("item_1")
	require.False(t, it.Streaming)
	require.Empty(t, it.TextDelta)
	require.Equal(t, "done.", it.TextFinal)
}

// audioFinal must equal the concatenation of all deltas in receipt order,
// whatever the chunking.
func TestAudioAccumulationInvariant(t *testing.T) {
	full := make([]byte, 240)
	for i := range full {
		full[i] = byte(i % 251)
	}

	for _, chunks := range []int{1, 2, 3, 5, 240} {
		t.Run(fmt.Sprintf("chunks=%d", chunks), func(t *testing.T) {
			p := newTestProcessor()
			startSession(t, p)
			createAssistantItem(t, p, "item_1")

			size := (len(full) + chunks - 1) / chunks
			for off := 0; off < len(full); off += size {
				end := off + size
				if end > len(full) {
					end = len(full)
				}
				eff := p.Apply(frame(t, map[string]any{
					"type":    "response.audio.delta",
					"item_id": "item_1",
					"delta":   pcm.EncodeBase64(full[off:end]),
				}))
				require.NotNil(t, eff.Audio)
				require.Equal(t, "item_1", eff.Audio.ItemID)
				require.Equal(t, full[off:end], eff.Audio.PCM)
			}

			p.Apply(frame(t, map[string]any{"type": "response.audio.done", "item_id": "item_1"}))

			it := p.Session().Item("item_1")
			require.Equal(t, full, it.AudioFinal)
			require.Nil(t, it.AudioDelta)
			require.False(t, it.Streaming)
		})
	}
}

// Deltas that keep arriving after an interrupt still accumulate; muting them
// is playback's job, not the reducer's.
func TestAudioAccumulatesAcrossInterrupt(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")

	d1, d2 := []byte{1, 2, 3}, []byte{4, 5, 6}
	p.Apply(frame(t, map[string]any{
		"type": "response.audio.delta", "item_id": "item_1", "delta": pcm.EncodeBase64(d1),
	}))

	eff := p.Apply(frame(t, map[string]any{"type": "input_audio_buffer.speech_started"}))
	require.True(t, eff.Interrupt)

	eff = p.Apply(frame(t, map[string]any{
		"type": "response.audio.delta", "item_id": "item_1", "delta": pcm.EncodeBase64(d2),
	}))
	require.NotNil(t, eff.Audio)

	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, p.Session().Item("item_1").AudioFinal)
}

func TestResponseCreatedInterrupts(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)

	eff := p.Apply(frame(t, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_2"}}))
	require.True(t, eff.Interrupt)
}

func TestInputTranscriptionCompletedSetsTextFinal(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)

	p.Apply(frame(t, map[string]any{
		"type": "conversation.item.created",
		"item": map[string]any{"id": "item_u1", "type": "message", "role": "user"},
	}))
	p.Apply(frame(t, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"item_id":    "item_u1",
		"transcript": "remind me about the lake trip",
	}))

	require.Equal(t, "remind me about the lake trip", p.Session().Item("item_u1").TextFinal)
}

// A malformed frame changes nothing and later frames still land.
func TestMalformedFrameIsDiscarded(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")
	p.Apply(frame(t, map[string]any{
		"type": "response.audio_transcript.delta", "item_id": "item_1", "delta": "Hi",
	}))

	eff := p.Apply([]byte(`{"type": "response.audio`))
	require.Equal(t, Effects{}, eff)

	require.Len(t, p.Session().Items, 1)
	it := p.Session().Item("item_1")
	require.Equal(t, "Hi", it.TextDelta)
	require.True(t, it.Streaming)

	p.Apply(frame(t, map[string]any{
		"type": "response.audio_transcript.done", "item_id": "item_1", "transcript": "Hi there",
	}))
	require.Equal(t, "Hi there", it.TextFinal)
}

func TestUnknownEventTypeIsDiscarded(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)

	eff := p.Apply(frame(t, map[string]any{"type": "rate_limits.updated"}))
	require.Equal(t, Effects{}, eff)
	require.Len(t, p.Session().Items, 0)
}

func TestEventsForUnknownItemAreDiscarded(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)

	eff := p.Apply(frame(t, map[string]any{
		"type": "response.audio.delta", "item_id": "item_missing", "delta": pcm.EncodeBase64([]byte{1}),
	}))
	require.Nil(t, eff.Audio)
	require.Empty(t, p.Session().Items)
}

// Generation errors annotate the affected item instead of surfacing as a
// transport failure.
func TestErrorEventAnnotatesItem(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")

	p.Apply(frame(t, map[string]any{
		"type":  "error",
		"error": map[string]any{"code": "generation_failed", "message": "upstream overloaded", "item_id": "item_1"},
	}))

	it := p.Session().Item("item_1")
	require.Equal(t, "generation_failed: upstream overloaded", it.ErrorMessage)
	require.False(t, it.Streaming)
	require.Nil(t, p.Session().LastError)
}

func TestErrorEventWithoutItemGoesToSession(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)

	p.Apply(frame(t, map[string]any{
		"type":  "error",
		"error": map[string]any{"code": "server_error", "message": "boom"},
	}))

	require.NotNil(t, p.Session().LastError)
	require.Equal(t, "server_error", p.Session().LastError.Code)
}

func TestResponseDoneFailedAnnotatesOutputItems(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")

	p.Apply(frame(t, map[string]any{
		"type": "response.done",
		"response": map[string]any{
			"id":     "resp_1",
			"status": "failed",
			"output": []map[string]any{{"id": "item_1", "type": "message"}},
		},
	}))

	require.Equal(t, "generation failed", p.Session().Item("item_1").ErrorMessage)
}

func TestPreviousItemIDIsDiagnosticOnly(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")

	// the back-reference is retained verbatim, even when it names an item
	// this session never saw
	require.Equal(t, "item_prev", p.Session().Item("item_1").PreviousID)
	require.Nil(t, p.Session().Item("item_prev"))
}

func TestResetDropsSessionForNextTurnCycle(t *testing.T) {
	p := newTestProcessor()
	startSession(t, p)
	createAssistantItem(t, p, "item_1")

	p.Reset()
	require.Nil(t, p.Session())

	eff := p.Apply(frame(t, map[string]any{
		"type":    "session.created",
		"session": map[string]any{"id": "sess_2"},
	}))
	require.Len(t, eff.Commands, 3)
	require.Equal(t, "sess_2", p.Session().ID)
	require.Empty(t, p.Session().Items)
}
