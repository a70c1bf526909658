package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/mcp"
)

const version = "v1.0.0"

// matcher-mcp exposes the listing matcher control API as MCP tools over stdio.
func main() {
	// stdout carries the protocol, logs go to stderr
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "matcher-mcp").Logger()

	apiURL := os.Getenv("MATCHER_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8000"
	}

	server := mcp.NewServer(mcp.NewClient(apiURL), version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("api", apiURL).Msg("serving MCP over stdio")
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("mcp server failed")
	}
}
