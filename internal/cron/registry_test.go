package cron

import (
	"context"
	"strings"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register(jobA)
	registry.Register(jobB)
	registry.Register(nil)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryReplacesSameName(t *testing.T) {
	first := &stubJob{name: "snapshot-cleanup"}
	second := &stubJob{name: "snapshot-cleanup"}
	registry := NewRegistry(first, &stubJob{name: "sync-queue-retention"}, second)

	if got := strings.Join(registry.Names(), ","); got != "snapshot-cleanup,sync-queue-retention" {
		t.Fatalf("unexpected names %s", got)
	}
	if registry.Jobs()[0] != second {
		t.Fatalf("expected later registration to win")
	}
}
