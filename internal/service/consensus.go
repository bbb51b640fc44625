package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentinelguard/sentinel/internal/domain/verdict"
	"github.com/sentinelguard/sentinel/internal/port/judge"
	"github.com/sentinelguard/sentinel/internal/telemetry"
)

// Consensus fans a prompt out to every configured judge and folds the
// responses into a unanimous aggregate. Any judge failure (unreachable,
// timeout, malformed output) becomes a fail-safe DENIED with confidence 0
// for that judge; a failing judge can never produce an implicit approval.
type Consensus struct {
	judges  []judge.Judge
	timeout time.Duration
	metrics *telemetry.Metrics
	log     *slog.Logger
}

// NewConsensus creates a Consensus over the given judge pool.
func NewConsensus(judges []judge.Judge, timeout time.Duration, metrics *telemetry.Metrics, log *slog.Logger) *Consensus {
	return &Consensus{
		judges:  judges,
		timeout: timeout,
		metrics: metrics,
		log:     log,
	}
}

// Evaluate runs all judges concurrently and aggregates their verdicts.
// The result slice is ordered by judge configuration position, so the
// same responses always fold into the same aggregate.
func (c *Consensus) Evaluate(ctx context.Context, prompt string) verdict.Aggregate {
	results := make([]verdict.JudgeVerdict, len(c.judges))

	g, gctx := errgroup.WithContext(ctx)
	for i, j := range c.judges {
		g.Go(func() error {
			jctx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			v, err := j.Evaluate(jctx, prompt)
			if err != nil {
				c.log.Warn("judge evaluation failed",
					"judge", j.Name(),
					"error", err)
				c.metrics.RecordJudgeFailure(gctx, j.Name())
				results[i] = failSafe(j.Name(), err)
				return nil
			}
			v.Judge = j.Name()
			results[i] = v
			return nil
		})
	}
	// Goroutines always return nil; failures are folded into the results.
	_ = g.Wait()

	return aggregate(results)
}

// failSafe converts a judge error into the DENIED verdict recorded for
// that judge.
func failSafe(name string, err error) verdict.JudgeVerdict {
	reason := fmt.Sprintf("%s unavailable", name)
	if errors.Is(err, judge.ErrMalformed) {
		reason = fmt.Sprintf("%s returned an unparseable verdict", name)
	}
	return verdict.JudgeVerdict{
		Judge:      name,
		Verdict:    verdict.Denied,
		Confidence: 0,
		Reason:     reason,
	}
}

// aggregate folds individual verdicts into the unanimous consensus:
// APPROVED iff every judge approved, confidence is the minimum across
// judges, denial reasons are joined in judge order.
func aggregate(results []verdict.JudgeVerdict) verdict.Aggregate {
	approved := true
	confidence := 100
	var denials []string

	for _, r := range results {
		if r.Confidence < confidence {
			confidence = r.Confidence
		}
		if r.Verdict != verdict.Approved {
			approved = false
			denials = append(denials, fmt.Sprintf("%s: %s", r.Judge, r.Reason))
		}
	}

	if approved {
		return verdict.Aggregate{
			Verdict:    verdict.Approved,
			Confidence: confidence,
			Reason:     "All judges approve action",
			Judges:     results,
		}
	}
	return verdict.Aggregate{
		Verdict:    verdict.Denied,
		Confidence: confidence,
		Reason:     strings.Join(denials, "; "),
		Judges:     results,
	}
}
