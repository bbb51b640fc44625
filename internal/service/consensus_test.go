package service

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/sentinelguard/sentinel/internal/domain/verdict"
	"github.com/sentinelguard/sentinel/internal/port/judge"
)

// fakeJudge is a scripted judge for consensus tests.
type fakeJudge struct {
	name    string
	verdict verdict.JudgeVerdict
	err     error
	delay   time.Duration
}

func (f *fakeJudge) Name() string { return f.name }

func (f *fakeJudge) Evaluate(ctx context.Context, _ string) (verdict.JudgeVerdict, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return verdict.JudgeVerdict{}, fmt.Errorf("%w: %v", judge.ErrUnavailable, ctx.Err())
		}
	}
	if f.err != nil {
		return verdict.JudgeVerdict{}, f.err
	}
	return f.verdict, nil
}

func approve(name string, confidence int) *fakeJudge {
	return &fakeJudge{name: name, verdict: verdict.JudgeVerdict{Verdict: verdict.Approved, Confidence: confidence, Reason: "looks safe"}}
}

func deny(name string, confidence int, reason string) *fakeJudge {
	return &fakeJudge{name: name, verdict: verdict.JudgeVerdict{Verdict: verdict.Denied, Confidence: confidence, Reason: reason}}
}

func newTestConsensus(judges ...judge.Judge) *Consensus {
	return NewConsensus(judges, time.Second, nil, slog.Default())
}

func TestConsensusUnanimousApproval(t *testing.T) {
	c := newTestConsensus(approve("judge-1", 90), approve("judge-2", 70))

	agg := c.Evaluate(context.Background(), "prompt")

	if agg.Verdict != verdict.Approved {
		t.Fatalf("Verdict = %s, want APPROVED", agg.Verdict)
	}
	if agg.Confidence != 70 {
		t.Errorf("Confidence = %d, want minimum 70", agg.Confidence)
	}
	if agg.Reason != "All judges approve action" {
		t.Errorf("Reason = %q", agg.Reason)
	}
	if len(agg.Judges) != 2 {
		t.Errorf("Judges = %d, want 2", len(agg.Judges))
	}
}

func TestConsensusSingleDenialDenies(t *testing.T) {
	c := newTestConsensus(approve("judge-1", 95), deny("judge-2", 80, "target looks like a drain"))

	agg := c.Evaluate(context.Background(), "prompt")

	if agg.Verdict != verdict.Denied {
		t.Fatalf("Verdict = %s, want DENIED", agg.Verdict)
	}
	if agg.Confidence != 80 {
		t.Errorf("Confidence = %d, want 80", agg.Confidence)
	}
	if agg.Reason != "judge-2: target looks like a drain" {
		t.Errorf("Reason = %q", agg.Reason)
	}
}

func TestConsensusJudgeErrorFailsSafe(t *testing.T) {
	c := newTestConsensus(
		approve("judge-1", 95),
		&fakeJudge{name: "judge-2", err: judge.ErrUnavailable},
	)

	agg := c.Evaluate(context.Background(), "prompt")

	if agg.Verdict != verdict.Denied {
		t.Fatalf("Verdict = %s, want DENIED on judge failure", agg.Verdict)
	}
	if agg.Confidence != 0 {
		t.Errorf("Confidence = %d, want 0", agg.Confidence)
	}
	if agg.Judges[1].Verdict != verdict.Denied || agg.Judges[1].Confidence != 0 {
		t.Errorf("failed judge folded to %+v, want DENIED/0", agg.Judges[1])
	}
}

func TestConsensusMalformedFailsSafe(t *testing.T) {
	c := newTestConsensus(
		approve("judge-1", 95),
		&fakeJudge{name: "judge-2", err: fmt.Errorf("%w: no JSON", judge.ErrMalformed)},
	)

	agg := c.Evaluate(context.Background(), "prompt")

	if agg.Verdict != verdict.Denied {
		t.Fatalf("Verdict = %s, want DENIED on malformed response", agg.Verdict)
	}
	if agg.Judges[1].Reason != "judge-2 returned an unparseable verdict" {
		t.Errorf("Reason = %q", agg.Judges[1].Reason)
	}
}

func TestConsensusTimeoutFailsSafe(t *testing.T) {
	slow := approve("judge-2", 99)
	slow.delay = 5 * time.Second

	c := NewConsensus([]judge.Judge{approve("judge-1", 95), slow}, 50*time.Millisecond, nil, slog.Default())

	start := time.Now()
	agg := c.Evaluate(context.Background(), "prompt")

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Evaluate took %v, should return at the timeout", elapsed)
	}
	if agg.Verdict != verdict.Denied {
		t.Fatalf("Verdict = %s, want DENIED on timeout", agg.Verdict)
	}
}

func TestConsensusDeterministicOrder(t *testing.T) {
	// judge-2 responds faster, but results always come out in
	// configuration order.
	slow := deny("judge-1", 60, "first reason")
	slow.delay = 20 * time.Millisecond
	c := newTestConsensus(slow, deny("judge-2", 40, "second reason"))

	for range 5 {
		agg := c.Evaluate(context.Background(), "prompt")
		if agg.Judges[0].Judge != "judge-1" || agg.Judges[1].Judge != "judge-2" {
			t.Fatalf("judge order = [%s, %s]", agg.Judges[0].Judge, agg.Judges[1].Judge)
		}
		if agg.Reason != "judge-1: first reason; judge-2: second reason" {
			t.Fatalf("Reason = %q, order must be stable", agg.Reason)
		}
	}
}
