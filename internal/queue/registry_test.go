package queue

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("a", newJobStatus("a", "t"), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("a", newJobStatus("a", "t"), nil); err != ErrJobExists {
		t.Fatalf("duplicate: got %v", err)
	}
}

func TestRegistryInitialRecord(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("a", newJobStatus("a", "My clip"), nil)
	st, ok := r.Get("a")
	if !ok {
		t.Fatalf("missing record")
	}
	want := JobStatus{ID: "a", Title: "My clip", Status: StatusDownloading, Percent: "0%", Speed: "0.00MiB/s", ETA: "--:--"}
	if st != want {
		t.Fatalf("initial record: got %+v want %+v", st, want)
	}
}

func TestRegistryUpdateIgnoresTerminalAndUnknown(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("a", newJobStatus("a", "t"), nil)
	if r.Update("missing", func(st *JobStatus) { st.Percent = "1%" }) {
		t.Fatalf("update of unknown id reported success")
	}
	if !r.Update("a", func(st *JobStatus) {
		st.Percent = "5.0%"
		st.Status = StatusFinished
	}) {
		t.Fatalf("update failed")
	}
	st, _ := r.Get("a")
	if st.Percent != "5.0%" || st.Status != StatusDownloading {
		t.Fatalf("update: got %+v", st)
	}
	r.Finish("a", StatusError, nil)
	if r.Update("a", func(st *JobStatus) { st.Percent = "9%" }) {
		t.Fatalf("update after terminal reported success")
	}
	st, _ = r.Get("a")
	if st.Percent != "5.0%" || st.Status != StatusError {
		t.Fatalf("terminal record changed: %+v", st)
	}
}

func TestRegistryMarkCancelledFiresTokenOnce(t *testing.T) {
	r := NewRegistry()
	fired := 0
	_ = r.Register("a", newJobStatus("a", "t"), func() { fired++ })
	if !r.MarkCancelled("a") {
		t.Fatalf("first cancel failed")
	}
	if r.MarkCancelled("a") {
		t.Fatalf("second cancel reported success")
	}
	if fired != 1 {
		t.Fatalf("token fired %d times", fired)
	}
	st, _ := r.Get("a")
	if st.Status != StatusCancelled {
		t.Fatalf("status: %s", st.Status)
	}
	if r.Finish("a", StatusFinished, nil) {
		t.Fatalf("finish after cancel reported success")
	}
	if r.MarkCancelled("unknown") {
		t.Fatalf("cancel of unknown id reported success")
	}
}

func TestRegistrySealBlocksCancel(t *testing.T) {
	r := NewRegistry()
	fired := false
	_ = r.Register("a", newJobStatus("a", "t"), func() { fired = true })
	if !r.Seal("a") {
		t.Fatalf("seal failed")
	}
	if r.MarkCancelled("a") {
		t.Fatalf("cancel after seal reported success")
	}
	if fired {
		t.Fatalf("token fired after seal")
	}
	if !r.Finish("a", StatusFinished, func(st *JobStatus) { st.Percent = donePercent }) {
		t.Fatalf("finish failed")
	}
	st, _ := r.Get("a")
	if st.Status != StatusFinished || st.Percent != "100%" {
		t.Fatalf("finished record: %+v", st)
	}
}

func TestRegistrySealFailsAfterCancel(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("a", newJobStatus("a", "t"), nil)
	r.MarkCancelled("a")
	if r.Seal("a") {
		t.Fatalf("seal after cancel reported success")
	}
}

func TestRegistryFinishRejectsNonTerminal(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("a", newJobStatus("a", "t"), nil)
	if r.Finish("a", StatusDownloading, nil) {
		t.Fatalf("non-terminal finish reported success")
	}
}

func TestRegistrySnapshotIsCopyAndSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		_ = r.Register(id, newJobStatus(id, id), nil)
	}
	snap := r.SnapshotAll()
	if len(snap) != 3 || snap[0].ID != "a" || snap[2].ID != "c" {
		t.Fatalf("snapshot: %+v", snap)
	}
	snap[0].Percent = "99%"
	st, _ := r.Get("a")
	if st.Percent != initialPercent {
		t.Fatalf("snapshot aliases registry")
	}
	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Fatalf("removed record still present")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("job-%d", i)
		_ = r.Register(id, newJobStatus(id, "t"), func() {})
		wg.Add(2)
		go func() {
			defer wg.Done()
			for p := 0; p <= 100; p++ {
				pct := fmt.Sprintf("%d%%", p)
				r.Update(id, func(st *JobStatus) { st.Percent = pct })
			}
			r.Finish(id, StatusFinished, nil)
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				_ = r.SnapshotAll()
				r.MarkCancelled(id)
			}
		}()
	}
	wg.Wait()
	for _, st := range r.SnapshotAll() {
		if !IsTerminal(st.Status) {
			t.Fatalf("job %s not terminal: %s", st.ID, st.Status)
		}
	}
}
