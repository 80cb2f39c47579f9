package voicert

import (
	"log/slog"

	"github.com/memovoice/voicert-go/events"
	"github.com/memovoice/voicert-go/pcm"
)

// Session is one realtime dialogue: the upstream-issued id plus the ordered
// conversation items. A reconnect never mutates a Session; the client builds
// a fresh one for the new connection.
type Session struct {
	ID        string
	Items     []*ConversationItem
	LastError *events.ErrorDetail

	byID map[string]*ConversationItem
}

// ConversationItem is one turn-fragment within a Session. Items are looked up
// only by ID; PreviousID is kept for ordering diagnostics and is never
// followed as a pointer.
type ConversationItem struct {
	ID         string
	PreviousID string
	Role       string
	Streaming  bool

	// TextDelta holds the last partial append only; cleared once TextFinal
	// is set.
	TextDelta string
	TextFinal string

	// AudioDelta is the most recent decoded chunk, consumed by playback and
	// then discarded. AudioFinal accumulates every chunk in receipt order.
	AudioDelta []byte
	AudioFinal []byte

	// ErrorMessage is a terminal annotation for a generation error reported
	// against this item.
	ErrorMessage string
}

func newSession(id string) *Session {
	return &Session{
		ID:   id,
		byID: map[string]*ConversationItem{},
	}
}

func (s *Session) item(id string) *ConversationItem {
	if s == nil || id == "" {
		return nil
	}
	return s.byID[id]
}

func (s *Session) append(it *ConversationItem) {
	s.Items = append(s.Items, it)
	s.byID[it.ID] = it
}

// Item returns the conversation item with the given id, or nil.
func (s *Session) Item(id string) *ConversationItem { return s.item(id) }

// AudioChunk is one decoded playback chunk keyed by its owning item.
type AudioChunk struct {
	ItemID string
	PCM    []byte
}

// Effects is what one reducer step asks the outside world to do. Commands
// are sent on the socket in order; Interrupt stops playback before Audio (if
// any) is enqueued.
type Effects struct {
	Commands  []any
	Interrupt bool
	Audio     *AudioChunk
}

// ProcessorConfig fixes the session-setup commands pipelined on
// session.created.
type ProcessorConfig struct {
	Session  events.SessionUpdate
	Greeting string
	Logger   *slog.Logger
}

// Processor folds the inbound frame stream into a Session. It is a
// single-threaded reducer: Apply must be called from one goroutine, and a
// malformed frame never makes it throw.
type Processor struct {
	cfg     ProcessorConfig
	session *Session
	logger  *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{cfg: cfg, logger: logger}
}

// Session returns the current session aggregate, or nil before
// session.created.
func (p *Processor) Session() *Session { return p.session }

// Reset discards the current session so the next session.created starts a
// fresh turn cycle.
func (p *Processor) Reset() { p.session = nil }

// Apply consumes one inbound frame and returns the effects to run. Unknown
// or unparseable frames are discarded silently.
func (p *Processor) Apply(data []byte) Effects {
	head, err := events.Parse[events.BaseEvent](data)
	if err != nil {
		p.logger.Debug("discarding unparseable frame", slog.Any("err", err))
		return Effects{}
	}

	switch events.EventType(head.Type) {
	case events.TypeSessionCreated:
		return p.applySessionCreated(data)
	case events.TypeSessionUpdated:
		// config acknowledged, nothing to fold in
		return Effects{}
	case events.TypeConversationItemCreated:
		return p.applyItemCreated(data)
	case events.TypeResponseAudioTranscriptDelta:
		return p.applyTranscriptDelta(data)
	case events.TypeResponseAudioTranscriptDone:
		return p.applyTranscriptDone(data)
	case events.TypeResponseAudioDelta:
		return p.applyAudioDelta(data)
	case events.TypeResponseAudioDone:
		return p.applyAudioDone(data)
	case events.TypeInputTranscriptionCompleted:
		return p.applyInputTranscription(data)
	case events.TypeInputAudioBufferSpeechStarted:
		// barge-in: the user is talking over the assistant
		return Effects{Interrupt: true}
	case events.TypeResponseCreated:
		// a new response supersedes whatever is still playing
		return Effects{Interrupt: true}
	case events.TypeResponseDone:
		return p.applyResponseDone(data)
	case events.TypeError:
		return p.applyError(data)
	default:
		p.logger.Debug("discarding unknown event", slog.String("type", head.Type))
		return Effects{}
	}
}

func (p *Processor) applySessionCreated(data []byte) Effects {
	evt, err := events.Parse[events.SessionCreatedEvent](data)
	if err != nil {
		return Effects{}
	}

	p.session = newSession(evt.Session.ID)
	p.logger.Info("session created", slog.String("session_id", evt.Session.ID))

	// Pipeline the setup commands without waiting for acknowledgments; each
	// omitted round-trip saves one full network latency.
	eff := Effects{
		Commands: []any{events.NewSessionUpdate(p.cfg.Session)},
	}
	if p.cfg.Greeting != "" {
		eff.Commands = append(eff.Commands, events.NewUserMessage(p.cfg.Greeting))
	}
	eff.Commands = append(eff.Commands, events.NewResponseCreate())
	return eff
}

func (p *Processor) applyItemCreated(data []byte) Effects {
	evt, err := events.Parse[events.ConversationItemCreatedEvent](data)
	if err != nil || p.session == nil || evt.Item.ID == "" {
		return Effects{}
	}
	if p.session.item(evt.Item.ID) != nil {
		// duplicate create, e.g. replayed after a reconnect
		return Effects{}
	}

	it := &ConversationItem{
		ID:         evt.Item.ID,
		PreviousID: evt.PreviousItemID,
		Role:       evt.Item.Role,
	}

	// The committed user utterance is sometimes delivered inline instead of
	// via transcription events.
	if evt.Item.Role == "user" {
		for _, c := range evt.Item.Content {
			switch {
			case c.Transcript != "":
				it.TextFinal = c.Transcript
			case c.Text != "":
				it.TextFinal = c.Text
			}
		}
	}

	p.session.append(it)
	return Effects{}
}

func (p *Processor) applyTranscriptDelta(data []byte) Effects {
	evt, err := events.Parse[events.ResponseAudioTranscriptDeltaEvent](data)
	if err != nil {
		return Effects{}
	}
	it := p.session.item(evt.ItemID)
	if it == nil {
		return Effects{}
	}
	if it.TextFinal != "" {
		// already finalized; a straggler delta must not resurrect streaming
		return Effects{}
	}
	it.TextDelta = evt.Delta
	it.Streaming = true
	return Effects{}
}

func (p *Processor) applyTranscriptDone(data []byte) Effects {
	evt, err := events.Parse[events.ResponseAudioTranscriptDoneEvent](data)
	if err != nil {
		return Effects{}
	}
	it := p.session.item(evt.ItemID)
	if it == nil {
		return Effects{}
	}
	it.TextDelta = ""
	it.TextFinal = evt.Transcript
	it.Streaming = false
	return Effects{}
}

func (p *Processor) applyAudioDelta(data []byte) Effects {
	evt, err := events.Parse[events.ResponseAudioDeltaEvent](data)
	if err != nil {
		return Effects{}
	}
	it := p.session.item(evt.ItemID)
	if it == nil {
		return Effects{}
	}

	chunk, err := pcm.DecodeBase64(evt.Delta)
	if err != nil {
		p.logger.Debug("discarding undecodable audio delta", slog.String("item_id", evt.ItemID), slog.Any("err", err))
		return Effects{}
	}

	it.AudioDelta = chunk
	it.AudioFinal = append(it.AudioFinal, chunk...)
	it.Streaming = true

	return Effects{Audio: &AudioChunk{ItemID: evt.ItemID, PCM: chunk}}
}

func (p *Processor) applyAudioDone(data []byte) Effects {
	evt, err := events.Parse[events.ResponseAudioDoneEvent](data)
	if err != nil {
		return Effects{}
	}
	it := p.session.item(evt.ItemID)
	if it == nil {
		return Effects{}
	}
	it.AudioDelta = nil
	it.Streaming = false
	return Effects{}
}

func (p *Processor) applyInputTranscription(data []byte) Effects {
	evt, err := events.Parse[events.InputTranscriptionCompletedEvent](data)
	if err != nil {
		return Effects{}
	}
	it := p.session.item(evt.ItemID)
	if it == nil {
		return Effects{}
	}
	it.TextFinal = evt.Transcript
	it.Streaming = false
	return Effects{}
}

func (p *Processor) applyResponseDone(data []byte) Effects {
	evt, err := events.Parse[events.ResponseDoneEvent](data)
	if err != nil {
		return Effects{}
	}
	// A failed generation is annotated on its output items, not raised as a
	// transport error.
	if evt.Response.Status == "failed" {
		for _, out := range evt.Response.Output {
			if it := p.session.item(out.ID); it != nil && it.ErrorMessage == "" {
				it.ErrorMessage = "generation failed"
				it.Streaming = false
			}
		}
	}
	return Effects{}
}

func (p *Processor) applyError(data []byte) Effects {
	evt, err := events.Parse[events.ErrorEvent](data)
	if err != nil {
		return Effects{}
	}
	if it := p.session.item(evt.ErrorDetail.ItemID); it != nil {
		it.ErrorMessage = evt.ErrorDetail.Error()
		it.Streaming = false
		return Effects{}
	}
	if p.session != nil {
		p.session.LastError = &evt.ErrorDetail
	}
	return Effects{}
}
