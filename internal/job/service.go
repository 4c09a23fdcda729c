package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maauso/pickerexport/internal/export"
	"github.com/maauso/pickerexport/internal/job/id"
	"github.com/maauso/pickerexport/internal/media"
	"github.com/maauso/pickerexport/internal/progress"
	"github.com/maauso/pickerexport/internal/storage"
)

// Static errors for the session service.
var (
	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoImages is returned when an image submission is empty.
	ErrNoImages = errors.New("no images submitted")
	// ErrEmptySource is returned when a submission has no source path.
	ErrEmptySource = errors.New("source path is empty")
	// ErrNotCancellable is returned when a job has no running export.
	ErrNotCancellable = errors.New("job has no running export")
)

// Exporter schedules trim-and-export renders. *export.Pipeline implements it.
type Exporter interface {
	TrimAndExport(ctx context.Context, source *media.Timeline, rng media.TrimRange, dest string, opts export.Options) (*export.Handle, error)
}

// VideoInput describes one trim-and-export request.
type VideoInput struct {
	SourcePath string
	Start      time.Duration
	End        time.Duration
	// Cover is the source position of the cover frame. Nil uses Start.
	Cover     *time.Duration
	FinalPass bool
	PushToS3  bool
}

// ImageInput describes one crop request.
type ImageInput struct {
	SourcePath string
	Crop       media.Rect
	// FitWidth and FitHeight, when both set, letterbox the crop into that size.
	FitWidth  int
	FitHeight int
	PushToS3  bool
}

// Service runs picker sessions. It creates jobs, drives crops and exports in
// the background and reports their completion to each session's aggregator.
type Service struct {
	repo      Repository
	prober    media.Prober
	exporter  Exporter
	processor media.Processor
	storage   storage.Storage
	logger    *slog.Logger

	// maxConcurrentCrops limits parallel image crops per submission.
	maxConcurrentCrops int
	container          media.Container

	mu       sync.RWMutex
	sessions map[string]*Session
	waiters  map[string]chan struct{}
}

// NewService creates a new Service.
func NewService(
	repo Repository,
	prober media.Prober,
	exporter Exporter,
	processor media.Processor,
	store storage.Storage,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:               repo,
		prober:             prober,
		exporter:           exporter,
		processor:          processor,
		storage:            store,
		logger:             logger,
		maxConcurrentCrops: 4,
		container:          media.ContainerMP4,
		sessions:           make(map[string]*Session),
		waiters:            make(map[string]chan struct{}),
	}
}

// SetMaxConcurrentCrops configures how many crops of one submission run in
// parallel. Non-positive values are ignored.
func (s *Service) SetMaxConcurrentCrops(n int) {
	if n > 0 {
		s.maxConcurrentCrops = n
	}
}

// SetContainer configures the container of exported videos.
func (s *Service) SetContainer(c media.Container) {
	if c != "" {
		s.container = c
	}
}

// StartSession creates a session expecting totalImages crops and totalVideos
// exports. sink may be nil. Empty categories complete immediately.
func (s *Service) StartSession(_ context.Context, totalImages, totalVideos int, sink progress.Sink) *Session {
	recorder := progress.NewRecorder()
	sess := newSession(id.Session(), progress.New(progress.Tee(recorder, sink), s.logger), recorder)
	sess.aggregator.Configure(totalImages, totalVideos)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session started",
		slog.String("session_id", sess.ID),
		slog.Int("total_images", totalImages),
		slog.Int("total_videos", totalVideos),
	)

	if totalImages <= 0 {
		sess.aggregator.CheckImages()
	}
	if totalVideos <= 0 {
		sess.aggregator.CheckVideos()
	}
	return sess
}

// GetSession returns a live session.
func (s *Service) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// EndSession stops accepting submissions, cancels exports (including ones
// still probing), waits for background work, detaches the session's sink and
// forgets the session. When removeOutputs is set, generated files are deleted; fallback
// outputs point at the caller's originals and are kept.
func (s *Service) EndSession(ctx context.Context, sessionID string, removeOutputs bool) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.close()
	sess.wg.Wait()
	sess.aggregator.Detach()

	jobs, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list session jobs: %w", err)
	}

	s.mu.Lock()
	for _, j := range jobs {
		delete(s.waiters, j.ID)
	}
	s.mu.Unlock()

	if removeOutputs {
		if err := s.removeOutputs(ctx, jobs); err != nil {
			return err
		}
	}

	s.logger.Info("session ended",
		slog.String("session_id", sessionID),
		slog.Int("jobs", len(jobs)),
		slog.Bool("outputs_removed", removeOutputs),
	)
	return nil
}

func (s *Service) removeOutputs(ctx context.Context, jobs []*Job) error {
	var paths []string
	for _, j := range jobs {
		if j.OutputPath != "" && !j.Fallback {
			paths = append(paths, j.OutputPath)
		}
		if j.CoverPath != "" {
			paths = append(paths, j.CoverPath)
		}
	}
	if err := s.storage.Cleanup(ctx, paths); err != nil {
		return fmt.Errorf("remove session outputs: %w", err)
	}
	for _, j := range jobs {
		j.ClearOutput()
		if err := s.repo.Save(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// SubmitVideo creates an export job and runs it in the background. A failed
// export falls back to the untrimmed source.
func (s *Service) SubmitVideo(ctx context.Context, sessionID string, in VideoInput) (*Job, error) {
	if in.SourcePath == "" {
		return nil, ErrEmptySource
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	job := New(sessionID, KindVideoExport)
	job.SourcePath = in.SourcePath
	job.TrimStart = in.Start
	job.TrimEnd = in.End
	job.PushToS3 = in.PushToS3

	if !sess.begin(1) {
		return nil, ErrSessionNotFound
	}
	if err := s.create(ctx, job); err != nil {
		sess.wg.Done()
		return nil, err
	}

	go func() {
		defer sess.wg.Done()
		s.runVideo(context.WithoutCancel(ctx), sess, job, in)
	}()

	return job.Clone(), nil
}

func (s *Service) runVideo(ctx context.Context, sess *Session, job *Job, in VideoInput) {
	defer s.release(job.ID)

	logger := s.logger.With(slog.String("job_id", job.ID), slog.String("session_id", sess.ID))

	tl, err := s.prober.Probe(sess.ctx, in.SourcePath)
	if err != nil {
		s.failVideo(ctx, sess, job, logger, fmt.Errorf("probe source: %w", err))
		return
	}

	dest, err := s.storage.NewDestination(sess.ctx, "trim", s.container.Extension())
	if err != nil {
		s.failVideo(ctx, sess, job, logger, err)
		return
	}

	if sess.ended() {
		s.cancelVideo(ctx, job, logger)
		return
	}
	if err := job.Start(); err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	s.save(ctx, job, logger)

	reporter := &videoReporter{svc: s, ctx: ctx, job: job, agg: sess.aggregator, logger: logger}
	h, err := s.exporter.TrimAndExport(ctx, tl, media.TrimRange{Start: in.Start, End: in.End}, dest, export.Options{
		RemoveExisting: true,
		FinalPass:      in.FinalPass,
		Reporter:       reporter,
	})
	if err != nil {
		s.fallbackVideo(ctx, sess, job, logger, err)
		return
	}

	sess.trackExport(job.ID, h)
	outcome, _ := h.Wait(context.Background())
	sess.untrackExport(job.ID)

	switch outcome.State {
	case export.StateCompleted:
		coverAt := in.Start
		if in.Cover != nil {
			coverAt = *in.Cover
		}
		if cover, ok := s.extractCover(ctx, outcome.Location, in.Start, in.End, coverAt, tl, logger); ok {
			job.SetCover(cover)
		}
		url := s.publish(ctx, job, outcome.Location, logger)
		if err := job.Complete(outcome.Location, url); err != nil {
			logger.Error("failed to complete job", slog.String("error", err.Error()))
		}
		s.save(ctx, job, logger)
		sess.aggregator.ReportVideoDone(true)

	case export.StateCancelled:
		s.cancelVideo(ctx, job, logger)

	default:
		s.fallbackVideo(ctx, sess, job, logger, outcome.Err)
	}
}

// failVideo falls back to the source, unless the failure came from the
// session ending, in which case the job is cancelled.
func (s *Service) failVideo(ctx context.Context, sess *Session, job *Job, logger *slog.Logger, cause error) {
	if sess.ended() {
		s.cancelVideo(ctx, job, logger)
		return
	}
	s.fallbackVideo(ctx, sess, job, logger, cause)
}

func (s *Service) cancelVideo(ctx context.Context, job *Job, logger *slog.Logger) {
	if err := job.Cancel(); err != nil {
		logger.Error("failed to cancel job", slog.String("error", err.Error()))
	}
	s.save(ctx, job, logger)
	logger.Info("video export cancelled")
}

func (s *Service) fallbackVideo(ctx context.Context, sess *Session, job *Job, logger *slog.Logger, cause error) {
	msg := "export failed"
	if cause != nil {
		msg = cause.Error()
	}
	logger.Warn("video export failed, falling back to source",
		slog.String("source", job.SourcePath),
		slog.String("error", msg),
	)
	if err := job.FailWithFallback(msg); err != nil {
		logger.Error("failed to mark job failed", slog.String("error", err.Error()))
	}
	s.save(ctx, job, logger)
	sess.aggregator.ReportVideoDone(false)
}

// extractCover writes the cover frame of an exported clip. coverAt is a source
// position and is clamped into the trimmed range.
func (s *Service) extractCover(ctx context.Context, exported string, start, end, coverAt time.Duration, tl *media.Timeline, logger *slog.Logger) (string, bool) {
	if _, ok := tl.VideoTrack(); !ok || end <= start {
		return "", false
	}

	offset := media.ClampCover(coverAt, media.TrimRange{Start: start, End: end}) - start

	dst, err := s.storage.NewDestination(ctx, "cover", ".jpg")
	if err != nil {
		logger.Warn("failed to allocate cover destination", slog.String("error", err.Error()))
		return "", false
	}
	if err := s.processor.ExtractFrame(ctx, exported, offset, dst); err != nil {
		logger.Warn("failed to extract cover frame", slog.String("error", err.Error()))
		return "", false
	}
	return dst, true
}

// publish uploads path when the job asks for it and returns the public URL.
// Upload failures keep the local output.
func (s *Service) publish(ctx context.Context, job *Job, path string, logger *slog.Logger) string {
	if !job.PushToS3 {
		return ""
	}

	f, err := s.storage.Open(ctx, path)
	if err != nil {
		logger.Error("failed to open output for upload", slog.String("error", err.Error()))
		return ""
	}
	defer func() { _ = f.Close() }()

	url, err := s.storage.UploadToS3(ctx, objectKey(job, path), f)
	if err != nil {
		logger.Error("failed to upload output", slog.String("error", err.Error()))
		return ""
	}
	logger.Info("output uploaded", slog.String("url", url))
	return url
}

func objectKey(job *Job, path string) string {
	return fmt.Sprintf("%s/%s%s", job.SessionID, job.ID, strings.ToLower(filepath.Ext(path)))
}

// SubmitImages creates one crop job per image and crops them in the background
// with bounded concurrency. Every crop reports completion to the session,
// including crops that fell back to the original image.
func (s *Service) SubmitImages(ctx context.Context, sessionID string, images []ImageInput) ([]*Job, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	for _, in := range images {
		if in.SourcePath == "" {
			return nil, ErrEmptySource
		}
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !sess.begin(len(images)) {
		return nil, ErrSessionNotFound
	}

	jobs := make([]*Job, len(images))
	result := make([]*Job, len(images))
	for i, in := range images {
		job := New(sessionID, KindImageCrop)
		job.SourcePath = in.SourcePath
		job.Crop = in.Crop
		job.PushToS3 = in.PushToS3
		if err := s.create(ctx, job); err != nil {
			sess.wg.Add(-len(images))
			return nil, err
		}
		jobs[i] = job
		result[i] = job.Clone()
	}

	runCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, s.maxConcurrentCrops)
	for i, job := range jobs {
		go func(job *Job, in ImageInput) {
			defer sess.wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			s.runCrop(runCtx, sess, job, in)
		}(job, images[i])
	}

	return result, nil
}

func (s *Service) runCrop(ctx context.Context, sess *Session, job *Job, in ImageInput) {
	defer s.release(job.ID)
	defer sess.aggregator.ReportImageDone()

	logger := s.logger.With(slog.String("job_id", job.ID), slog.String("session_id", sess.ID))

	if err := job.Start(); err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	s.save(ctx, job, logger)

	ext := strings.ToLower(filepath.Ext(job.SourcePath))
	if ext == "" {
		ext = ".jpg"
	}

	dst, err := s.storage.NewDestination(ctx, "crop", ext)
	if err == nil {
		if err = s.processor.CropImage(ctx, job.SourcePath, dst, job.Crop); err != nil {
			_ = s.storage.Cleanup(ctx, []string{dst})
		}
	}
	if err == nil && in.FitWidth > 0 && in.FitHeight > 0 {
		dst, err = s.fit(ctx, dst, ext, in.FitWidth, in.FitHeight)
	}
	if err != nil {
		logger.Warn("crop failed, falling back to original", slog.String("error", err.Error()))
		if ferr := job.FailWithFallback(err.Error()); ferr != nil {
			logger.Error("failed to mark job failed", slog.String("error", ferr.Error()))
		}
		s.save(ctx, job, logger)
		return
	}

	url := s.publish(ctx, job, dst, logger)
	if err := job.Complete(dst, url); err != nil {
		logger.Error("failed to complete job", slog.String("error", err.Error()))
	}
	s.save(ctx, job, logger)
}

// fit letterboxes cropped into w x h and removes the intermediate crop.
func (s *Service) fit(ctx context.Context, cropped, ext string, w, h int) (string, error) {
	fitted, err := s.storage.NewDestination(ctx, "fit", ext)
	if err != nil {
		return "", err
	}
	if err := s.processor.ResizeImageWithPadding(ctx, cropped, fitted, w, h); err != nil {
		_ = s.storage.Cleanup(ctx, []string{cropped, fitted})
		return "", fmt.Errorf("fit crop to %dx%d: %w", w, h, err)
	}
	if err := s.storage.Cleanup(ctx, []string{cropped}); err != nil {
		s.logger.Warn("failed to remove intermediate crop",
			slog.String("path", cropped),
			slog.String("error", err.Error()),
		)
	}
	return fitted, nil
}

// CancelJob stops the running export of a video job.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	sess, err := s.GetSession(ctx, job.SessionID)
	if err != nil {
		return ErrNotCancellable
	}
	h, ok := sess.export(jobID)
	if !ok {
		return ErrNotCancellable
	}
	h.Cancel()
	return nil
}

// Wait blocks until the job is terminal or ctx is done and returns the latest
// stored job.
func (s *Service) Wait(ctx context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	done, ok := s.waiters[jobID]
	s.mu.RUnlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.repo.FindByID(ctx, jobID)
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns the jobs of a session, or all jobs when sessionID is empty.
func (s *Service) ListJobs(ctx context.Context, sessionID string) ([]*Job, error) {
	if sessionID == "" {
		return s.repo.List(ctx)
	}
	return s.repo.ListBySession(ctx, sessionID)
}

func (s *Service) create(ctx context.Context, job *Job) error {
	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.String("kind", string(job.Kind)),
		slog.String("source", job.SourcePath),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.mu.Lock()
	s.waiters[job.ID] = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// release wakes Wait callers once the job reached its final stored state.
func (s *Service) release(jobID string) {
	s.mu.RLock()
	done, ok := s.waiters[jobID]
	s.mu.RUnlock()
	if ok {
		close(done)
	}
}

func (s *Service) save(ctx context.Context, job *Job, logger *slog.Logger) {
	if err := s.repo.Save(ctx, job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

// videoReporter forwards export progress to the session and the stored job.
type videoReporter struct {
	svc    *Service
	ctx    context.Context
	job    *Job
	agg    *progress.Aggregator
	logger *slog.Logger
}

func (r *videoReporter) ReportProgress(f float64) {
	r.agg.ReportProgress(f)
	r.job.UpdateProgress(int(f * 100))
	r.svc.save(r.ctx, r.job, r.logger)
}
