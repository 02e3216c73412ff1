package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"opsbook/internal/playbook"
	logx "opsbook/pkg/logx"
)

// openDrivers returns a fresh store per driver so every test exercises all
// backends.
func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	stores := map[string]Store{
		"memory": NewMemory(),
	}

	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "opsbook.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	stores["file"] = fs

	ss, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "opsbook.sqlite"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	stores["sqlite"] = ss

	t.Cleanup(func() {
		_ = fs.Close()
		_ = ss.Close()
	})
	return stores
}

func testTemplate(id string) *playbook.Template {
	return &playbook.Template{
		ID:      id,
		Name:    "db failover " + id,
		Version: 3,
		Steps: []playbook.Step{
			{ID: "s1", Title: "page the on-call", Kind: playbook.StepKindTask},
			{ID: "s2", Title: "promote replica", Kind: playbook.StepKindTask},
		},
		Tags:      []string{"db", "failover"},
		UpdatedAt: time.Now().UTC(),
	}
}

func testRun(id string, status playbook.RunStatus) *playbook.Run {
	return &playbook.Run{
		ID:              id,
		TemplateID:      "tpl-1",
		TemplateVersion: 3,
		Name:            "failover drill",
		Status:          status,
		Steps: []playbook.Step{
			{ID: "s1", Title: "page the on-call", Kind: playbook.StepKindTask, Status: playbook.StepPending},
		},
		Participants: []string{"1001", "1002"},
		StartedAt:    time.Now().UTC(),
	}
}

func TestStoreTemplates(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := st.GetTemplate(ctx, "missing"); !errors.Is(err, playbook.ErrTemplateNotFound) {
				t.Fatalf("missing template: got %v, want ErrTemplateNotFound", err)
			}

			tpl := testTemplate("tpl-1")
			if err := st.PutTemplate(ctx, tpl); err != nil {
				t.Fatalf("put: %v", err)
			}

			got, err := st.GetTemplate(ctx, "tpl-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Name != tpl.Name || got.Version != 3 || len(got.Steps) != 2 {
				t.Fatalf("round trip mismatch: %+v", got)
			}

			// Mutating the returned value must not leak back into the store.
			got.Steps[0].Title = "mutated"
			again, err := st.GetTemplate(ctx, "tpl-1")
			if err != nil {
				t.Fatalf("get again: %v", err)
			}
			if again.Steps[0].Title != "page the on-call" {
				t.Fatalf("store state aliased by caller mutation: %q", again.Steps[0].Title)
			}

			// Upsert replaces.
			tpl.Version = 4
			if err := st.PutTemplate(ctx, tpl); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			again, _ = st.GetTemplate(ctx, "tpl-1")
			if again.Version != 4 {
				t.Fatalf("upsert not applied, version=%d", again.Version)
			}

			list, err := st.ListTemplates(ctx)
			if err != nil || len(list) != 1 {
				t.Fatalf("list: %v len=%d", err, len(list))
			}
		})
	}
}

func TestStoreRuns(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := st.GetRun(ctx, "nope"); !errors.Is(err, playbook.ErrRunNotFound) {
				t.Fatalf("missing run: got %v", err)
			}

			active := testRun("run-a", playbook.RunActive)
			done := testRun("run-b", playbook.RunCompleted)
			done.StartedAt = active.StartedAt.Add(time.Minute)
			for _, r := range []*playbook.Run{active, done} {
				if err := st.PutRun(ctx, r); err != nil {
					t.Fatalf("put %s: %v", r.ID, err)
				}
			}

			all, err := st.ListRuns(ctx, "")
			if err != nil || len(all) != 2 {
				t.Fatalf("list all: %v len=%d", err, len(all))
			}
			if all[0].ID != "run-a" {
				t.Fatalf("list not ordered by start time: %s first", all[0].ID)
			}

			onlyActive, err := st.ListRuns(ctx, playbook.RunActive)
			if err != nil || len(onlyActive) != 1 || onlyActive[0].ID != "run-a" {
				t.Fatalf("status filter: %v %+v", err, onlyActive)
			}

			if err := st.DeleteRun(ctx, "run-b"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.DeleteRun(ctx, "run-b"); !errors.Is(err, playbook.ErrRunNotFound) {
				t.Fatalf("double delete: got %v", err)
			}
		})
	}
}

func TestStoreSchedules(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)

	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := st.GetSchedule(ctx, "nope"); !errors.Is(err, playbook.ErrScheduleNotFound) {
				t.Fatalf("missing schedule: got %v", err)
			}

			due := &playbook.Schedule{
				ID: "sch-due", RunID: "run-a",
				Frequency: playbook.FreqDaily,
				Hour:      9, Minute: 0,
				NextRun:   now.Add(-time.Minute),
				CreatedAt: now.Add(-time.Hour),
			}
			future := &playbook.Schedule{
				ID: "sch-future", RunID: "run-a",
				Frequency: playbook.FreqWeekly,
				Days:      []int{1, 3, 5},
				Hour:      9, Minute: 30,
				NextRun:   now.Add(time.Hour),
				CreatedAt: now.Add(-30 * time.Minute),
			}
			other := &playbook.Schedule{
				ID: "sch-other", RunID: "run-b",
				Frequency: playbook.FreqDaily,
				NextRun:   now.Add(-time.Hour),
				CreatedAt: now,
			}
			for _, sc := range []*playbook.Schedule{due, future, other} {
				if err := st.PutSchedule(ctx, sc); err != nil {
					t.Fatalf("put %s: %v", sc.ID, err)
				}
			}

			byRun, err := st.ListSchedules(ctx, "run-a")
			if err != nil || len(byRun) != 2 {
				t.Fatalf("list by run: %v len=%d", err, len(byRun))
			}

			dueList, err := st.ListDueSchedules(ctx, now)
			if err != nil {
				t.Fatalf("due: %v", err)
			}
			if len(dueList) != 2 {
				t.Fatalf("due count: got %d, want 2", len(dueList))
			}
			if dueList[0].ID != "sch-other" || dueList[1].ID != "sch-due" {
				t.Fatalf("due not ordered by next_run: %s, %s", dueList[0].ID, dueList[1].ID)
			}

			got, err := st.GetSchedule(ctx, "sch-future")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(got.Days) != 3 || got.Minute != 30 {
				t.Fatalf("schedule round trip: %+v", got)
			}

			// Rescheduling moves it out of the due set.
			due.NextRun = now.Add(24 * time.Hour)
			due.LastRun = now
			if err := st.PutSchedule(ctx, due); err != nil {
				t.Fatalf("reschedule: %v", err)
			}
			dueList, _ = st.ListDueSchedules(ctx, now)
			if len(dueList) != 1 || dueList[0].ID != "sch-other" {
				t.Fatalf("reschedule not reflected in due set: %+v", dueList)
			}
		})
	}
}

func TestStoreUpdatesAndAudit(t *testing.T) {
	t.Parallel()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)

			for i, content := range []string{"replica promoted", "traffic shifted"} {
				u := &playbook.Update{
					ID:        "upd-" + content[:4],
					RunID:     "run-a",
					StepID:    playbook.StepGeneral,
					Content:   content,
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
					CreatedBy: playbook.ActorSystem,
				}
				if err := st.AppendUpdate(ctx, u); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			list, err := st.ListUpdates(ctx, "run-a")
			if err != nil || len(list) != 2 {
				t.Fatalf("list updates: %v len=%d", err, len(list))
			}
			if list[0].Content != "replica promoted" || list[1].Content != "traffic shifted" {
				t.Fatalf("update order lost: %+v", list)
			}

			none, err := st.ListUpdates(ctx, "run-z")
			if err != nil || len(none) != 0 {
				t.Fatalf("unknown run updates: %v len=%d", err, len(none))
			}

			err = st.AppendAudit(ctx, AuditEntry{
				Actor:  "1001",
				Action: "step.complete",
				RunID:  "run-a",
				StepID: "s1",
			})
			if err != nil {
				t.Fatalf("audit: %v", err)
			}
		})
	}
}

// TestFileStoreReload confirms the file driver rebuilds its state from disk.
func TestFileStoreReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "opsbook.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.PutTemplate(ctx, testTemplate("tpl-1")); err != nil {
		t.Fatalf("put template: %v", err)
	}
	if err := st.PutRun(ctx, testRun("run-a", playbook.RunActive)); err != nil {
		t.Fatalf("put run: %v", err)
	}
	if err := st.PutSchedule(ctx, &playbook.Schedule{
		ID: "sch-1", RunID: "run-a",
		Frequency: playbook.FreqDaily,
		NextRun:   time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("put schedule: %v", err)
	}
	if err := st.AppendUpdate(ctx, &playbook.Update{
		ID: "upd-1", RunID: "run-a", StepID: "s1",
		Content: "started", CreatedAt: time.Now(), CreatedBy: "1001",
	}); err != nil {
		t.Fatalf("append update: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	re, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer re.Close()

	if _, err := re.GetTemplate(ctx, "tpl-1"); err != nil {
		t.Fatalf("template lost on reload: %v", err)
	}
	if _, err := re.GetRun(ctx, "run-a"); err != nil {
		t.Fatalf("run lost on reload: %v", err)
	}
	if _, err := re.GetSchedule(ctx, "sch-1"); err != nil {
		t.Fatalf("schedule lost on reload: %v", err)
	}
	ups, err := re.ListUpdates(ctx, "run-a")
	if err != nil || len(ups) != 1 || ups[0].Content != "started" {
		t.Fatalf("updates lost on reload: %v %+v", err, ups)
	}
}

// TestSQLiteReload confirms durability across close/reopen for sqlite too.
func TestSQLiteReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "opsbook.sqlite")

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.PutRun(ctx, testRun("run-a", playbook.RunActive)); err != nil {
		t.Fatalf("put run: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	re, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer re.Close()

	r, err := re.GetRun(ctx, "run-a")
	if err != nil || r.Status != playbook.RunActive {
		t.Fatalf("run lost on reload: %v %+v", err, r)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
