package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/usecase"
	"github.com/dealflow/listing-matcher/internal/conf"
	"github.com/dealflow/listing-matcher/internal/data"
)

// forward-message pushes one chat message through the forwarder to the
// configured workflow webhook.
func main() {
	_ = godotenv.Load()

	if len(os.Args) < 3 {
		fmt.Println("Usage: forward-message <chat_id> <message>")
		os.Exit(1)
	}

	cfg := conf.LoadFromEnv()
	if cfg.Sink.URL == "" {
		fmt.Println("Error: SINK_URL must be set")
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	sink := data.NewWebhookSink(cfg.Sink.URL, cfg.Sink.Timeout)
	forwarder := usecase.NewForwardUsecase(sink, cfg.Keywords.ToKeywords(), logger)

	msg := domain.IncomingMessage{
		ID:         time.Now().Unix(),
		ChatID:     domain.ID(os.Args[1]),
		SenderName: "forward-message",
		Text:       strings.Join(os.Args[2:], " "),
		SentAt:     time.Now(),
	}

	envelope, _ := json.MarshalIndent(forwarder.BuildEnvelope(msg), "", "  ")
	fmt.Println(string(envelope))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sink.Timeout+5*time.Second)
	defer cancel()

	if !forwarder.Dispatch(ctx, msg) {
		os.Exit(1)
	}
	fmt.Println("Message forwarded successfully!")
}
