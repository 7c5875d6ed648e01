// Package analytics notifies downstream factor and scoring engines that new
// bars have landed. Every trigger is best-effort.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Trigger kinds
const (
	KindFactors = "factors"
	KindScores  = "scores"
)

// Trigger is implemented by every notifier.
type Trigger interface {
	RecomputeFactors(ctx context.Context, code string) error
	RecomputeAllScores(ctx context.Context) error
}

// TriggerError wraps a failed notification.
type TriggerError struct {
	Kind string
	Code string // empty for KindScores
	Err  error
}

func (e *TriggerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("analytics %s trigger for %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("analytics %s trigger: %v", e.Kind, e.Err)
}

func (e *TriggerError) Unwrap() error {
	return e.Err
}

// Event is the payload sent by the webhook and NATS triggers.
type Event struct {
	Kind        string    `json:"kind"`
	Code        string    `json:"code,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// LogTrigger only logs. Used when no downstream is configured.
type LogTrigger struct {
	logger zerolog.Logger
}

func NewLogTrigger(logger zerolog.Logger) *LogTrigger {
	return &LogTrigger{logger: logger.With().Str("component", "analytics").Logger()}
}

func (t *LogTrigger) RecomputeFactors(ctx context.Context, code string) error {
	t.logger.Debug().Str("code", code).Msg("Factor recompute requested")
	return nil
}

func (t *LogTrigger) RecomputeAllScores(ctx context.Context) error {
	t.logger.Info().Msg("Score recompute requested")
	return nil
}

// Fanout calls every trigger and joins their errors.
type Fanout []Trigger

func (f Fanout) RecomputeFactors(ctx context.Context, code string) error {
	var errs []error
	for _, t := range f {
		if err := t.RecomputeFactors(ctx, code); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) RecomputeAllScores(ctx context.Context) error {
	var errs []error
	for _, t := range f {
		if err := t.RecomputeAllScores(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
