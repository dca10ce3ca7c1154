package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hugo-lorenzo-mato/marketflow/internal/logging"
)

// Publisher is the subset of *nats.Conn used by the bridge.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials a NATS server for event fan-out.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("marketflow"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
}

// NATSBridge forwards bus events to NATS subjects of the form
// <prefix>.<event_type>.
type NATSBridge struct {
	pub    Publisher
	prefix string
	logger *logging.Logger
}

// NewNATSBridge creates a bridge. An empty prefix defaults to "marketflow".
func NewNATSBridge(pub Publisher, prefix string, logger *logging.Logger) *NATSBridge {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "marketflow"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSBridge{pub: pub, prefix: prefix, logger: logger.WithComponent("nats")}
}

// Subject returns the subject an event is published on.
func (b *NATSBridge) Subject(e Event) string {
	return fmt.Sprintf("%s.%s", b.prefix, e.EventType())
}

// Forward publishes one event.
func (b *NATSBridge) Forward(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.EventType(), err)
	}
	return b.pub.Publish(b.Subject(e), data)
}

// Run forwards events until ch closes or ctx is done. Publish failures are
// logged and do not stop the bridge.
func (b *NATSBridge) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := b.Forward(e); err != nil {
				b.logger.Warn("event publish failed", "type", e.EventType(), "run_id", e.RunID(), "error", err)
			}
		}
	}
}
