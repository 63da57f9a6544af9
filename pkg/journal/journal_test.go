package journal

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRunLifecycle(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.BeginRun(ctx, "blog", "create")
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := j.RecordStep(ctx, id, "account", "completed", ""); err != nil {
		t.Fatalf("RecordStep failed: %v", err)
	}
	if err := j.RecordStep(ctx, id, "webserver", "failed", "apachectl returned 1"); err != nil {
		t.Fatalf("RecordStep failed: %v", err)
	}
	if err := j.EndRun(ctx, id, "failed", "step webserver: apachectl returned 1"); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}

	runs, err := j.ListRuns(ctx, "blog", 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != "failed" || run.Operation != "create" {
		t.Errorf("run = %+v", run)
	}
	if run.Error == nil || *run.Error == "" {
		t.Error("run error should be recorded")
	}
	if run.CompletedAt == nil {
		t.Error("completed_at should be set")
	}

	steps, err := j.ListSteps(ctx, id)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Step != "account" || steps[1].Step != "webserver" {
		t.Errorf("steps out of order: %v, %v", steps[0].Step, steps[1].Step)
	}
	if steps[1].Message != "apachectl returned 1" {
		t.Errorf("step message = %q", steps[1].Message)
	}
}

func TestListRunsFilterAndOrder(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, project := range []string{"blog", "bot", "blog"} {
		id, err := j.BeginRun(ctx, project, "update")
		if err != nil {
			t.Fatal(err)
		}
		if err := j.EndRun(ctx, id, "completed", ""); err != nil {
			t.Fatal(err)
		}
	}

	all, err := j.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("got %d runs, want 3", len(all))
	}

	blog, err := j.ListRuns(ctx, "blog", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(blog) != 2 {
		t.Errorf("got %d blog runs, want 2", len(blog))
	}
	for _, r := range blog {
		if r.Project != "blog" {
			t.Errorf("filter leaked run for %q", r.Project)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j1, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	j1.Close()

	// Re-opening must not fail on already-applied migrations.
	j2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	j2.Close()
}
