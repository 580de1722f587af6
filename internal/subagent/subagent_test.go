package subagent

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeReviewer struct {
	text  string
	err   error
	delay time.Duration
}

func (f *fakeReviewer) Review(ctx context.Context, prompt string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func TestMaybeReview_BelowConfidenceSkipped(t *testing.T) {
	c := New(&fakeReviewer{text: "looks fine"})
	out, err := c.MaybeReview(context.Background(), 0.5, "do a thing", Artifact{ToolName: "t", Data: map[string]any{"x": 1}})
	if err != nil || out != "" {
		t.Fatalf("expected no review, got %q err=%v", out, err)
	}
}

func TestMaybeReview_NonReviewableArtifactSkipped(t *testing.T) {
	c := New(&fakeReviewer{text: "looks fine"})
	out, err := c.MaybeReview(context.Background(), 0.9, "do a thing", Artifact{ToolName: "t", Output: "plain text"})
	if err != nil || out != "" {
		t.Fatalf("expected no review, got %q err=%v", out, err)
	}
}

func TestMaybeReview_RunsAboveThreshold(t *testing.T) {
	c := New(&fakeReviewer{text: "  looks solid  "})
	out, err := c.MaybeReview(context.Background(), 0.8, "do a thing", Artifact{ToolName: "t", Data: map[string]any{"x": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if out != "looks solid" {
		t.Fatalf("got %q", out)
	}
}

func TestMaybeReview_BudgetExceeded(t *testing.T) {
	c := &Coordinator{MinConfidence: 0.5, Budget: 10 * time.Millisecond, Reviewer: &fakeReviewer{text: "late", delay: 50 * time.Millisecond}}
	_, err := c.MaybeReview(context.Background(), 0.9, "msg", Artifact{ToolName: "t", Data: map[string]any{"x": 1}})
	if err == nil {
		t.Fatal("expected budget-exceeded error")
	}
}

func TestMaybeReview_ReviewerError(t *testing.T) {
	c := New(&fakeReviewer{err: errors.New("boom")})
	_, err := c.MaybeReview(context.Background(), 0.9, "msg", Artifact{ToolName: "t", Data: map[string]any{"x": 1}})
	if err == nil {
		t.Fatal("expected error")
	}
}
