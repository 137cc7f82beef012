// Package notify publishes track progress events. The delivery transport is
// a collaborator concern; the pipeline only needs a publish capability.
package notify

import (
	"context"

	"soundvault/pkg/domain"
)

// Notifier publishes a progress event for every track status transition.
type Notifier interface {
	Publish(ctx context.Context, event domain.ProgressEvent) error
	Close() error
}

// Noop discards events. Used when no broker is configured and in tests that
// do not assert on notifications.
type Noop struct{}

func (Noop) Publish(context.Context, domain.ProgressEvent) error { return nil }
func (Noop) Close() error                                        { return nil }
