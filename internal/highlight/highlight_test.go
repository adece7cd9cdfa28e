package highlight

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeGenerator struct {
	h   Highlights
	err error
}

func (f *fakeGenerator) Generate(ctx context.Context, transcript string) (Highlights, error) {
	return f.h, f.err
}

func TestGenerateWithFallback_UsesGenerator(t *testing.T) {
	g := &fakeGenerator{h: Highlights{
		Summary:     "the team agreed to ship",
		Highlights:  []string{"decision made"},
		ActionItems: []string{"alice ships it"},
	}}

	got := GenerateWithFallback(context.Background(), g, "transcript", time.Minute, []string{"alice"})
	if got.Summary != "the team agreed to ship" {
		t.Errorf("summary = %q", got.Summary)
	}
	if strings.Contains(got.Summary, FallbackNotice) {
		t.Error("successful generation must not carry the fallback notice")
	}
}

func TestGenerateWithFallback_SubstitutesHeuristicOnError(t *testing.T) {
	g := &fakeGenerator{err: errors.New("quota exceeded")}

	got := GenerateWithFallback(context.Background(), g, "one two three", 5*time.Minute, []string{"alice", "bob"})
	if !strings.HasPrefix(got.Summary, FallbackNotice) {
		t.Errorf("summary = %q, want fallback notice prefix", got.Summary)
	}
}

func TestGenerateWithFallback_NilGenerator(t *testing.T) {
	got := GenerateWithFallback(context.Background(), nil, "words here", time.Minute, nil)
	if !strings.HasPrefix(got.Summary, FallbackNotice) {
		t.Errorf("summary = %q, want fallback notice prefix", got.Summary)
	}
}

func TestHeuristic(t *testing.T) {
	speakers := []string{"alice", "bob"}
	got := Heuristic("one two three four", 10*time.Minute, speakers)

	if !strings.Contains(got.Summary, "10 minutes") {
		t.Errorf("summary missing duration: %q", got.Summary)
	}
	if !strings.Contains(got.Summary, "2 speakers") {
		t.Errorf("summary missing speaker count: %q", got.Summary)
	}
	if !strings.Contains(got.Summary, "4 words") {
		t.Errorf("summary missing word count: %q", got.Summary)
	}
	if len(got.Speakers) != 2 {
		t.Errorf("speakers = %v", got.Speakers)
	}
	if len(got.Highlights) != 0 || len(got.ActionItems) != 0 {
		t.Error("heuristic must not fabricate highlights or action items")
	}
}
