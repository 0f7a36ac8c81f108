// Package channel defines the interface for chat frontends that submit
// optimize and revise runs and report their progress.
package channel

import "context"

// Channel is a long-running frontend started alongside the HTTP server.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string
	// Run blocks until ctx is canceled or the channel fails.
	Run(ctx context.Context) error
}
