package invites

import (
	"context"
	"fmt"

	"github.com/platinummonkey/passportd/pkg/observability"
)

// Notifier delivers invitation messages
type Notifier interface {
	Notify(ctx context.Context, msg *Message) error
}

// LogNotifier writes messages to the structured log. Delivery is handled by
// whatever ships the log stream.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: observability.OrDefault(logger).WithField("component", "notifier")}
}

// Notify logs msg
func (n *LogNotifier) Notify(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	n.logger.WithFields(map[string]interface{}{
		"kind":          string(msg.Kind),
		"from":          msg.From,
		"to":            msg.To,
		"subject":       msg.Subject,
		"link":          msg.Link,
		"organization":  msg.OrganizationID.String(),
		"invitation_id": msg.InvitationID.String(),
	}).Info("invitation message")
	return nil
}
