package emit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "swiss.review"

// Publisher is the subset of *nats.Conn the NATS emitter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSEmitter publishes every event as JSON on "<prefix>.<kind>", for
// example "swiss.review.review_finished". Publish failures are logged and
// dropped.
type NATSEmitter struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSEmitter creates a NATSEmitter. An empty prefix means
// DefaultSubjectPrefix; a nil logger means zap.NewNop().
func NewNATSEmitter(pub Publisher, prefix string, logger *zap.Logger) *NATSEmitter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSEmitter{pub: pub, prefix: prefix, logger: logger}
}

// Subject returns the subject an event of kind is published on.
func (n *NATSEmitter) Subject(kind string) string {
	return n.prefix + "." + kind
}

// Emit implements Emitter.
func (n *NATSEmitter) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal event", zap.String("kind", event.Kind), zap.Error(err))
		return
	}
	subject := n.Subject(event.Kind)
	if err := n.pub.Publish(subject, data); err != nil {
		n.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.String("run_id", event.RunID),
			zap.Error(err),
		)
		return
	}
	n.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("run_id", event.RunID),
	)
}

// ConnectNATS dials url with reconnection enabled and connection state
// changes reported to logger.
func ConnectNATS(url, clientName string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				logger.Warn("NATS connection closed", zap.Error(err))
			}
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}
