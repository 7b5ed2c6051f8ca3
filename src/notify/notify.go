// Package notify delivers trading events to users. Delivery is fire-and-forget:
// a failed notification is logged and never reaches the caller.
package notify

import (
	"context"

	logger "github.com/sirupsen/logrus"
)

const (
	EventPositionOpened  = "position_opened"
	EventPositionClosed  = "position_closed"
	EventOrphanFill      = "orphan_fill"
	EventSyncGapDetected = "sync_gap_detected"
)

type Notifier interface {
	Notify(ctx context.Context, userID uint, event string, payload map[string]interface{})
}

// LogNotifier only writes events to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID uint, event string, payload map[string]interface{}) {
	logger.WithFields(map[string]interface{}{
		"component": "notify",
		"user_id":   userID,
		"event":     event,
		"payload":   payload,
	}).Info("notification")
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID uint, event string, payload map[string]interface{}) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, userID, event, payload)
		}
	}
}

// Wait blocks until members with background deliveries are idle.
func (m Multi) Wait() {
	for _, n := range m {
		if w, ok := n.(interface{ Wait() }); ok {
			w.Wait()
		}
	}
}
