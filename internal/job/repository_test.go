package job

import (
	"context"
	"testing"
	"time"

	"github.com/maauso/pickerexport/internal/media"
)

// testRepositoryContract exercises behaviour every Repository must share.
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("save and find", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := New("ses-a", KindImageCrop)
		job.SourcePath = "/photos/a.jpg"
		job.Crop = media.Rect{X: 10, Y: 20, Width: 300, Height: 400}
		job.PushToS3 = true

		if err := repo.Save(ctx, job); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		saved, err := repo.FindByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if saved.ID != job.ID || saved.SessionID != "ses-a" || saved.Kind != KindImageCrop {
			t.Errorf("unexpected identity %+v", saved)
		}
		if saved.Crop != job.Crop {
			t.Errorf("expected crop %+v, got %+v", job.Crop, saved.Crop)
		}
		if !saved.PushToS3 {
			t.Error("expected PushToS3 to be stored")
		}
		if saved.Status != StatusPending {
			t.Errorf("expected status %s, got %s", StatusPending, saved.Status)
		}
		if !saved.StartedAt.IsZero() {
			t.Error("expected StartedAt to be unset")
		}
	})

	t.Run("update", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		job := New("ses-a", KindVideoExport)
		job.SourcePath = "/videos/a.mov"
		job.TrimStart = 2 * time.Second
		job.TrimEnd = 7*time.Second + 250*time.Millisecond
		_ = repo.Save(ctx, job)

		_ = job.Start()
		job.UpdateProgress(50)
		_ = job.FailWithFallback("render failed")
		if err := repo.Save(ctx, job); err != nil {
			t.Fatalf("Save() update error = %v", err)
		}

		saved, _ := repo.FindByID(ctx, job.ID)
		if saved.Status != StatusFailed {
			t.Errorf("expected status %s, got %s", StatusFailed, saved.Status)
		}
		if saved.Progress != 50 {
			t.Errorf("expected progress 50, got %d", saved.Progress)
		}
		if !saved.Fallback || saved.OutputPath != "/videos/a.mov" {
			t.Errorf("expected fallback to source, got %v %q", saved.Fallback, saved.OutputPath)
		}
		if saved.TrimStart != job.TrimStart || saved.TrimEnd != job.TrimEnd {
			t.Errorf("expected trim %v-%v, got %v-%v", job.TrimStart, job.TrimEnd, saved.TrimStart, saved.TrimEnd)
		}
		if saved.StartedAt.IsZero() || saved.CompletedAt.IsZero() {
			t.Error("expected lifecycle timestamps")
		}
		if saved.CreatedAt.Sub(job.CreatedAt).Abs() > time.Microsecond {
			t.Errorf("expected CreatedAt %v, got %v", job.CreatedAt, saved.CreatedAt)
		}
	})

	t.Run("find missing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByID(context.Background(), "nonexistent")
		if err != ErrJobNotFound {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("list in creation order", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		jobs, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(jobs) != 0 {
			t.Errorf("expected 0 jobs, got %d", len(jobs))
		}

		base := time.Now()
		var ids []string
		for i, session := range []string{"ses-a", "ses-b", "ses-a"} {
			job := New(session, KindImageCrop)
			job.CreatedAt = base.Add(time.Duration(i) * time.Second)
			ids = append(ids, job.ID)
			_ = repo.Save(ctx, job)
		}

		jobs, err = repo.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(jobs) != 3 {
			t.Fatalf("expected 3 jobs, got %d", len(jobs))
		}
		for i, job := range jobs {
			if job.ID != ids[i] {
				t.Errorf("position %d: expected %s, got %s", i, ids[i], job.ID)
			}
		}

		sessionJobs, err := repo.ListBySession(ctx, "ses-a")
		if err != nil {
			t.Fatalf("ListBySession() error = %v", err)
		}
		if len(sessionJobs) != 2 || sessionJobs[0].ID != ids[0] || sessionJobs[1].ID != ids[2] {
			t.Errorf("unexpected session jobs %v", sessionJobs)
		}

		none, _ := repo.ListBySession(ctx, "ses-missing")
		if len(none) != 0 {
			t.Errorf("expected no jobs, got %d", len(none))
		}
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		job := New("ses-a", KindImageCrop)
		_ = repo.Save(ctx, job)

		if err := repo.Delete(ctx, job.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := repo.FindByID(ctx, job.ID); err != ErrJobNotFound {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if err := repo.Delete(ctx, job.ID); err != ErrJobNotFound {
			t.Errorf("expected ErrJobNotFound on second delete, got %v", err)
		}
	})

	t.Run("returned jobs are detached", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		job := New("ses-a", KindImageCrop)
		_ = repo.Save(ctx, job)

		found, _ := repo.FindByID(ctx, job.ID)
		found.Progress = 99
		_ = found.Start()

		listed, _ := repo.List(ctx)
		listed[0].Error = "mutated"

		original, _ := repo.FindByID(ctx, job.ID)
		if original.Progress != 0 || original.Status != StatusPending || original.Error != "" {
			t.Error("modifying returned jobs should not affect repository")
		}
	})
}
