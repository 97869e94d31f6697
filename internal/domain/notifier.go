package domain

import "context"

// Notifier delivers a human-readable status message. Delivery is best effort;
// failures are logged by the caller, never propagated into the execution.
type Notifier interface {
	Send(ctx context.Context, message string) error
}
