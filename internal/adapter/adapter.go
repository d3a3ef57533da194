// Package adapter connects chat platforms to the agent. Each adapter
// listens for incoming user messages, runs them through the processor,
// and delivers the reply back on the same channel.
package adapter

import "context"

// Processor runs one user input to a final answer.
type Processor interface {
	Process(ctx context.Context, sessionID, input string) (string, error)
}

// Adapter is a long-running platform listener.
type Adapter interface {
	// Name returns the adapter name (e.g. "slack", "telegram").
	Name() string

	// Start begins listening for messages (e.g. starts a server or
	// long-poll). Must respect context cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Health checks if the adapter is connected.
	Health(ctx context.Context) error
}
