package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS subjects
const (
	SubjectFactors = "analytics.factors.recompute"
	SubjectScores  = "analytics.scores.recompute"
)

// NATSTrigger publishes an Event per request. Consumers subscribe to the
// subjects above.
type NATSTrigger struct {
	conn   *nats.Conn
	logger zerolog.Logger
	now    func() time.Time
}

// NewNATSTrigger connects to url.
func NewNATSTrigger(url string, logger zerolog.Logger) (*NATSTrigger, error) {
	log := logger.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name("ashare-sync"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSTrigger{conn: conn, logger: log, now: time.Now}, nil
}

func (t *NATSTrigger) RecomputeFactors(ctx context.Context, code string) error {
	return t.publish(SubjectFactors, Event{Kind: KindFactors, Code: code, RequestedAt: t.now()})
}

func (t *NATSTrigger) RecomputeAllScores(ctx context.Context) error {
	return t.publish(SubjectScores, Event{Kind: KindScores, RequestedAt: t.now()})
}

func (t *NATSTrigger) publish(subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return &TriggerError{Kind: ev.Kind, Code: ev.Code, Err: err}
	}
	if err := t.conn.Publish(subject, data); err != nil {
		return &TriggerError{Kind: ev.Kind, Code: ev.Code, Err: err}
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (t *NATSTrigger) Close() {
	if err := t.conn.Drain(); err != nil {
		t.logger.Warn().Err(err).Msg("NATS drain failed")
		t.conn.Close()
	}
}
