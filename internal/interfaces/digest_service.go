package interfaces

import "context"

// DigestService mails periodic summaries of newly scored matches
type DigestService interface {
	// Start registers the digest schedule and begins ticking
	Start() error

	// Stop halts the schedule and waits for an in-flight run
	Stop() error

	// RunOnce builds and sends a digest immediately, regardless of the
	// schedule. Returns the number of matches mailed; zero means nothing
	// was due or the digest is not configured.
	RunOnce(ctx context.Context) (int, error)
}
