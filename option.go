package voicert

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/memovoice/voicert-go/events"
	"github.com/memovoice/voicert-go/tool"
)

const (
	ApiKeyEnvVarNameShort = "STEP_API_KEY"
	ApiKeyEnvVarNameLong  = "STEPFUN_API_KEY"

	DefaultModel    = "step-1o-audio"
	DefaultRelayURL = "ws://127.0.0.1:8088"
)

type clientConfig struct {
	model       string
	apiKey      string
	relayURL    string
	upstreamURL string
	instruction string
	greeting    string
	voice       string
	temperature float64
	speed       float64
	sampleRate  int
	latencyMS   int
	heartbeat   time.Duration
	logger      *slog.Logger
	tools       []tool.Tool
}

func (c *clientConfig) latency() time.Duration {
	return time.Duration(c.latencyMS) * time.Millisecond
}

func (c *clientConfig) validate() error {
	if c.apiKey == "" {
		return fmt.Errorf("missing api key")
	}
	if c.relayURL == "" && c.upstreamURL == "" {
		return fmt.Errorf("missing relay or upstream url")
	}
	return nil
}

func (c *clientConfig) sessionUpdate() events.SessionUpdate {
	toolChoice := tool.ChoiceNone
	if len(c.tools) > 0 {
		toolChoice = tool.ChoiceAuto
	}

	return events.SessionUpdate{
		Voice:             c.voice,
		InputAudioFormat:  events.AudioFormatPCM16,
		OutputAudioFormat: events.AudioFormatPCM16,
		Temperature:       c.temperature,
		Speed:             c.speed,
		Instructions:      c.instruction,
		Modalities:        []string{"text", "audio"},
		ToolChoice:        toolChoice,
		Tools:             c.tools,
		TurnDetection: &events.TurnDetection{
			CreateResponse:    true,
			InterruptResponse: true,
			Type:              "server_vad",
		},
	}
}

type ClientOption func(*clientConfig)

func WithTools(tools ...tool.Tool) ClientOption {
	return func(config *clientConfig) {
		config.tools = append(config.tools, tools...)
	}
}

// WithRetrieval attaches the retrieval tool bound to one knowledge base.
func WithRetrieval(knowledgeBaseID string) ClientOption {
	return WithTools(tool.Retrieval(knowledgeBaseID))
}

func WithVoice(voice string) ClientOption {
	return func(config *clientConfig) {
		config.voice = voice
	}
}

func WithSpeed(speed float64) ClientOption {
	return func(config *clientConfig) {
		config.speed = speed
	}
}

func WithSampleRate(sr int) ClientOption {
	return func(config *clientConfig) {
		config.sampleRate = sr
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientConfig) {
		o.logger = logger
	}
}

func WithDefaultLogger() ClientOption {
	return WithLogger(slog.Default())
}

func WithTemperature(temperature float64) ClientOption {
	return func(o *clientConfig) {
		o.temperature = temperature
	}
}

func WithModel(model string) ClientOption {
	return func(o *clientConfig) {
		o.model = model
	}
}

func WithKey(apiKey string) ClientOption {
	return func(o *clientConfig) {
		o.apiKey = apiKey
	}
}

func WithEnvKey(vars ...string) ClientOption {
	return func(o *clientConfig) {
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				o.apiKey = k
				return
			}
		}
	}
}

// WithRelayURL points the client at a relay proxy; model and apiKey travel
// as query parameters.
func WithRelayURL(url string) ClientOption {
	return func(o *clientConfig) {
		o.relayURL = url
	}
}

// WithUpstreamURL bypasses the relay and dials the speech service directly
// with a bearer Authorization header.
func WithUpstreamURL(url string) ClientOption {
	return func(o *clientConfig) {
		o.upstreamURL = url
		o.relayURL = ""
	}
}

func WithHeartbeatInterval(d time.Duration) ClientOption {
	return func(o *clientConfig) {
		o.heartbeat = d
	}
}

func WithOptions(opts ...ClientOption) ClientOption {
	return func(o *clientConfig) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

func withDefaults() ClientOption {
	return WithOptions(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithVoice("linjiajiejie"),
		WithInstruction("You are the voice of a personal memory assistant. Help the user recall and record their memories."),
		WithGreeting("Hello!"),
		WithTemperature(0.7),
		WithSampleRate(24_000),
		WithLatency(200),
		WithSpeed(1.0),
		WithModel(DefaultModel),
		WithRelayURL(DefaultRelayURL),
		WithEnvKey(ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong),
	)
}

func WithInstruction(instruction string) ClientOption {
	return func(o *clientConfig) {
		o.instruction = instruction
	}
}

// WithGreeting sets the synthetic user message pipelined right after
// session.created. Empty disables the greeting.
func WithGreeting(text string) ClientOption {
	return func(o *clientConfig) {
		o.greeting = text
	}
}

// WithLatency sets the capture chunking latency in milliseconds.
func WithLatency(latencyMS int) ClientOption {
	return func(o *clientConfig) {
		o.latencyMS = latencyMS
	}
}
