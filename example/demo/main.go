// Console demo: talks to the speech service through a local relay, reads one
// turn of raw PCM16 (24 kHz mono) from stdin and prints the transcript.
//
// Run the relay first, then e.g.:
//
//	arecord -f S16_LE -r 24000 -c 1 | go run .
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	voicert "github.com/memovoice/voicert-go"
	"github.com/memovoice/voicert-go/events"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	var (
		relayURL    = voicert.DefaultRelayURL
		kb          = "kb-demo"
		instruction = "You are the voice of a personal memory assistant. Help the user recall and record their memories."
		debug       = false
	)

	flag.StringVar(&relayURL, "relay", relayURL, "relay proxy url")
	flag.StringVar(&kb, "kb", kb, "knowledge base id for the retrieval tool")
	flag.StringVar(&instruction, "instruction", instruction, "system instruction")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelError)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := voicert.New(
		voicert.WithDefaultLogger(),
		voicert.WithRelayURL(relayURL),
		voicert.WithInstruction(instruction),
		voicert.WithRetrieval(kb),
	)

	client.OnError(func(e *events.ErrorEvent) {
		slog.Error("error", slog.Any("error", e))
	})
	client.OnEvent(func(eventType string, data []byte) {
		switch events.EventType(eventType) {
		case events.TypeResponseAudioTranscriptDone:
			if evt, err := events.Parse[events.ResponseAudioTranscriptDoneEvent](data); err == nil {
				println("agent>", evt.Transcript)
			}
		case events.TypeInputTranscriptionCompleted:
			if evt, err := events.Parse[events.InputTranscriptionCompletedEvent](data); err == nil {
				println("you>", evt.Transcript)
			}
		}
	})

	must(client.Open(ctx))
	defer client.Close(context.Background())

	// no speaker in this demo; keep the playback buffer draining
	go func() {
		_, _ = io.Copy(io.Discard, client.Audio())
	}()

	must(client.StartTurn(os.Stdin))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	must(client.StopTurn())
}
