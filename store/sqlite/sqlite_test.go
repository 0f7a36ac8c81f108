package sqlite

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jxucoder/promptopt/model"
	"github.com/jxucoder/promptopt/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func newRun(id string, created time.Time) *model.Run {
	return &model.Run{
		ID:       id,
		Kind:     model.KindOptimize,
		Status:   model.StatusIdle,
		Document: "Write a blog post about AI.",
		Examples: []model.Example{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRunCRUD(t *testing.T) {
	st := newTestStore(t)
	run := newRun("abc12345", time.Now().UTC())
	if err := st.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := st.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != model.StatusIdle || got.Document != run.Document || len(got.Examples) != 2 {
		t.Fatalf("unexpected run: %+v", got)
	}

	got.Status = model.StatusDone
	got.FinalDocument = "You are a helpful AI assistant. Write a blog post about AI."
	got.Improvement = 45
	got.Reports = []model.IssueReport{model.NewIssueReport("clarity", []string{"no role"}, model.SeverityMedium)}
	got.Rewrites = []model.RewriteResult{{Stage: "finish", Document: got.FinalDocument, Changes: []string{"added a role definition"}, Improvement: 15, Fallback: true}}
	got.FinalExamples = model.CloneExamples(got.Examples)
	if err := st.UpdateRun(got); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got2, err := st.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get updated run: %v", err)
	}
	if got2.Status != model.StatusDone || got2.Improvement != 45 {
		t.Fatalf("update did not persist: %+v", got2)
	}
	if diff := cmp.Diff(got.Reports, got2.Reports); diff != "" {
		t.Fatalf("reports (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(got.Rewrites, got2.Rewrites); diff != "" {
		t.Fatalf("rewrites (-want +got):\n%s", diff)
	}
}

func TestGetRunNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.GetRun("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.UpdateRun(&model.Run{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		if err := st.CreateRun(newRun(fmt.Sprintf("run%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create run %d: %v", i, err)
		}
	}

	runs, err := st.ListRuns(0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run2" || runs[2].ID != "run0" {
		t.Fatalf("expected newest first, got %d runs", len(runs))
	}

	limited, err := st.ListRuns(2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(limited))
	}
}

func TestGetEventsAfterID(t *testing.T) {
	st := newTestStore(t)
	if err := st.CreateRun(newRun("run1", time.Now().UTC())); err != nil {
		t.Fatalf("create run: %v", err)
	}

	var ids []int64
	for _, typ := range []string{model.EventStatus, model.EventFallback, model.EventDone} {
		ev := &model.Event{RunID: "run1", Type: typ, Data: typ, CreatedAt: time.Now().UTC()}
		if err := st.AddEvent(ev); err != nil {
			t.Fatalf("add event: %v", err)
		}
		if ev.ID == 0 {
			t.Fatal("expected event ID to be set")
		}
		ids = append(ids, ev.ID)
	}

	all, err := st.GetEvents("run1", 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(all) != 3 || all[1].Type != model.EventFallback {
		t.Fatalf("unexpected events: %+v", all)
	}

	after, err := st.GetEvents("run1", ids[0])
	if err != nil {
		t.Fatalf("get events after: %v", err)
	}
	if len(after) != 2 || after[0].ID != ids[1] {
		t.Fatalf("unexpected events after %d: %+v", ids[0], after)
	}
}

func TestRevisionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	run := newRun("rev1", time.Now().UTC())
	run.Kind = model.KindRevise
	run.Feedback = "make it more detailed"
	run.FeedbackRecord = &model.FeedbackRecord{
		Feedback:        run.Feedback,
		Category:        "detail",
		RequiredChanges: []model.Change{model.ChangeMoreDetail},
		Impact:          0.6,
	}
	run.Revision = &model.Revision{Document: "d", Changes: []string{"c"}, FeedbackAddressed: []string{"f"}}
	if err := st.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := st.GetRun("rev1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Kind != model.KindRevise || got.Feedback != run.Feedback {
		t.Fatalf("unexpected run: %+v", got)
	}
	if diff := cmp.Diff(run.FeedbackRecord, got.FeedbackRecord); diff != "" {
		t.Fatalf("feedback record (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(run.Revision, got.Revision); diff != "" {
		t.Fatalf("revision (-want +got):\n%s", diff)
	}
}

func TestPRFieldsPersist(t *testing.T) {
	st := newTestStore(t)
	run := newRun("pr1", time.Now().UTC())
	if err := st.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	run.PRUrl = "https://github.com/owner/repo/pull/7"
	run.PRNumber = 7
	if err := st.UpdateRun(run); err != nil {
		t.Fatalf("update run: %v", err)
	}
	got, err := st.GetRun("pr1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.PRUrl != run.PRUrl || got.PRNumber != 7 {
		t.Fatalf("PR fields not persisted: %+v", got)
	}
}
