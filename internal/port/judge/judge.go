// Package judge defines the port interface for external AI judges.
// The core treats each judge as an opaque evaluator; any transport or
// parse failure is folded into a fail-safe DENIED by the consensus layer.
package judge

import (
	"context"
	"errors"

	"github.com/sentinelguard/sentinel/internal/domain/verdict"
)

// ErrUnavailable indicates the judge could not be reached or timed out.
var ErrUnavailable = errors.New("judge unavailable")

// ErrMalformed indicates the judge responded with output that does not
// parse into a {verdict, confidence, reason} triple.
var ErrMalformed = errors.New("judge returned malformed response")

// Judge is the port interface for one configured judge.
type Judge interface {
	// Name identifies the judge in logs, reasons, and metrics.
	Name() string

	// Evaluate submits a prompt and returns the judge's verdict.
	// Implementations must respect ctx cancellation and return
	// ErrUnavailable or ErrMalformed (possibly wrapped) on failure.
	Evaluate(ctx context.Context, prompt string) (verdict.JudgeVerdict, error)
}
