package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"kneeseg-worker/internal/classify"
	"kneeseg-worker/internal/config"
	"kneeseg-worker/internal/diagnostics"
	"kneeseg-worker/internal/domain"
	"kneeseg-worker/internal/gpu"
	"kneeseg-worker/internal/jobs"
	applog "kneeseg-worker/internal/log"
	"kneeseg-worker/internal/pipeline"
	"kneeseg-worker/internal/progress"
	"kneeseg-worker/internal/runconfig"
	"kneeseg-worker/pkg/schema"
)

// jobRunner isolates the pipeline executor behind an interface.
type jobRunner interface {
	Run(ctx context.Context, spec pipeline.JobSpec, lease *gpu.Lease, onProgress func(progress.Event)) pipeline.Outcome
}

// publisher sends JSON payloads to the message bus. A nil publisher keeps the
// worker fully functional for local runs and tests.
type publisher interface {
	PublishJSON(subject string, v any) error
}

// App wires configuration, diagnostics, job state, the GPU pool, and the
// pipeline executor into one worker.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Diagnostics domain.DiagnosticReport

	checker    *diagnostics.Checker
	classifier *classify.Classifier
	pool       *gpu.Pool
	events     *jobs.EventBus
	stats      *jobs.Stats
	bus        publisher
	logger     *slog.Logger

	newRunner func(pipeline.Config) jobRunner
	statFile  func(string) (os.FileInfo, error)

	mu          sync.Mutex
	activeJobID string
	cancel      context.CancelFunc
}

// Options configures App construction.
type Options struct {
	Store  config.Store
	Bus    publisher
	Logger *slog.Logger
	// CleanupArgv, when non-empty, is executed on each GPU reclaim.
	CleanupArgv []string
}

// New builds the worker with persisted settings, environment overrides, and
// startup diagnostics.
func New(opts Options) (*App, error) {
	if opts.Store == nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user home: %w", err)
		}
		opts.Store = config.NewJSONStore(filepath.Join(homeDir, ".kneeseg-worker", "settings.json"))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	settings, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.FromEnv(settings)

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	return &App{
		Settings:    settings,
		Store:       opts.Store,
		Jobs:        jobs.NewManager(),
		Diagnostics: report,
		checker:     checker,
		classifier:  classify.NewClassifier(),
		pool:        gpu.NewPool(settings.GPUSlots, opts.CleanupArgv, opts.Logger),
		events:      jobs.NewEventBus(1000),
		stats:       jobs.NewStats(20, 4*time.Minute),
		bus:         opts.Bus,
		logger:      opts.Logger,
		newRunner: func(cfg pipeline.Config) jobRunner {
			return pipeline.NewExecutor(cfg)
		},
		statFile: os.Stat,
	}, nil
}

// AttachBus connects the worker to the message bus. Call before submitting
// jobs; a nil bus keeps all publication local.
func (a *App) AttachBus(b publisher) {
	a.bus = b
}

// Submit accepts one segmentation request and runs it asynchronously. A
// second submission while a job is active is rejected. Invalid options
// terminate the job synchronously as queued -> error; the pipeline is never
// launched and the returned job already carries the terminal state.
func (a *App) Submit(req schema.SegmentationRequested) (domain.Job, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(a.Settings.DataDir, jobID)
	}

	job := domain.Job{
		ID:        jobID,
		InputPath: req.ScanPath,
		OutputDir: outputDir,
		Options: domain.Options{
			SegmentationModel:  req.Model,
			PerformNSM:         req.PerformNSM,
			NSMType:            req.NSMType,
			ClipFemurTop:       req.ClipFemurTop,
			CartilageSmoothing: req.CartilageSmoothing,
			BatchSize:          req.BatchSize,
		},
		TotalSteps: progress.TotalSteps,
	}

	if err := a.Jobs.Start(job); err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.activeJobID = jobID
	a.cancel = cancel
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusQueued, "Job accepted")

	if err := runconfig.ValidateOptions(job.Options); err != nil {
		pe := a.classifier.ErrorFor(classify.CodeConfigValidation, err.Error())
		a.finishError(applog.WithJob(context.Background(), jobID), jobID, time.Now(), &pe)
		return a.Jobs.Current(), nil
	}

	go a.runSegmentationJob(ctx, a.Jobs.Current(), a.Settings)
	return a.Jobs.Current(), nil
}

// Cancel requests cancellation of the running job. The terminal state is
// recorded by the run goroutine once the process is down.
func (a *App) Cancel() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel == nil || !a.Jobs.IsRunning() {
		return jobs.ErrNoRunningJob
	}

	cancel()
	return nil
}

// CancelJob cancels only when jobID names the active job.
func (a *App) CancelJob(jobID string) error {
	a.mu.Lock()
	active := a.activeJobID
	a.mu.Unlock()

	if active != jobID {
		return jobs.ErrNoRunningJob
	}
	return a.Cancel()
}

// runSegmentationJob drives one job end to end: config generation, GPU
// acquisition, supervised execution, and the single terminal transition.
func (a *App) runSegmentationJob(ctx context.Context, job domain.Job, settings domain.Settings) {
	start := time.Now()
	ctx = applog.WithJob(ctx, job.ID)

	// Config generation precedes the running transition: a job whose
	// configuration cannot be materialized goes queued -> error and is
	// never reported as running.
	generator := runconfig.NewGenerator(settings.BaseConfigPath)
	configPath, err := generator.Generate(job.OutputDir, job.Options)
	if err != nil {
		var verr *runconfig.ValidationError
		if !errors.As(err, &verr) {
			// Template read or write trouble is still a configuration
			// failure from the submitter's point of view.
			a.logger.ErrorContext(ctx, "generate run config", "err", err)
		}
		pe := a.classifier.ErrorFor(classify.CodeConfigValidation, err.Error())
		a.finishError(ctx, job.ID, start, &pe)
		return
	}
	a.Jobs.SetConfigPath(configPath)

	if err := a.Jobs.MarkRunning(); err != nil {
		a.logger.ErrorContext(ctx, "mark job running", "err", err)
		return
	}
	a.publishStatus(job.ID, domain.JobStatusRunning, "Job started")

	lease, err := a.pool.Acquire(ctx)
	if err != nil {
		// Cancellation while waiting for a device slot.
		a.finishCancelled(ctx, job.ID, start)
		return
	}

	model, ok := domain.SegModelByID(job.Options.SegmentationModel)
	if !ok {
		model, _ = domain.SegModelByID(domain.DefaultSegModel)
	}

	runner := a.newRunner(pipeline.Config{
		PythonBin:     settings.PythonBin,
		ScriptPath:    settings.PipelineScript,
		PipelineDir:   settings.PipelineDir,
		Timeout:       time.Duration(settings.TimeoutSeconds) * time.Second,
		ExpectedTotal: a.stats.Average,
		Logger:        a.logger,
	})

	outcome := runner.Run(ctx, pipeline.JobSpec{
		JobID:      job.ID,
		InputPath:  job.InputPath,
		OutputDir:  job.OutputDir,
		ConfigPath: configPath,
		ModelName:  model.PipelineName,
	}, lease, func(ev progress.Event) {
		a.Jobs.UpdateProgress(ev.Step, ev.TotalSteps, ev.StepName, ev.Percent)
		a.publishProgress(job.ID, ev)
	})

	switch outcome.Status {
	case domain.JobStatusComplete:
		a.finishComplete(ctx, job.ID, start, outcome.ResultPath)
	case domain.JobStatusCancelled:
		a.finishCancelled(ctx, job.ID, start)
	default:
		a.finishError(ctx, job.ID, start, outcome.Err)
	}
}

func (a *App) finishComplete(ctx context.Context, jobID string, start time.Time, resultPath string) {
	elapsed := time.Since(start)
	a.stats.Record(elapsed)

	if err := a.Jobs.Complete(resultPath); err != nil {
		a.logger.ErrorContext(ctx, "record completion", "err", err)
	}
	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Status:     domain.JobStatusComplete,
		Message:    "Segmentation complete",
		ResultPath: resultPath,
	})
	a.publishDone(schema.SegmentationDone{
		JobID:            jobID,
		Status:           string(domain.JobStatusComplete),
		ResultPath:       resultPath,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
	a.clearActiveJob(jobID)
}

func (a *App) finishCancelled(ctx context.Context, jobID string, start time.Time) {
	if err := a.Jobs.Cancelled(); err != nil {
		a.logger.ErrorContext(ctx, "record cancellation", "err", err)
	}
	a.publishStatus(jobID, domain.JobStatusCancelled, "Job cancelled")
	a.publishDone(schema.SegmentationDone{
		JobID:            jobID,
		Status:           string(domain.JobStatusCancelled),
		ErrorCode:        string(classify.CodeCancelled),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
	a.clearActiveJob(jobID)
}

func (a *App) finishError(ctx context.Context, jobID string, start time.Time, pe *classify.PipelineError) {
	if pe == nil {
		unknown := a.classifier.ErrorFor(classify.CodeUnknown, "")
		pe = &unknown
	}
	a.logger.ErrorContext(ctx, "job failed",
		"code", pe.Code,
		"detail", pe.TechnicalDetail,
	)

	if err := a.Jobs.Fail(string(pe.Code), pe.UserMessage, pe.RecoveryHint); err != nil {
		a.logger.ErrorContext(ctx, "record failure", "err", err)
	}
	a.publishEvent(jobs.Event{
		JobID:     jobID,
		Type:      jobs.EventTypeError,
		Status:    domain.JobStatusError,
		Message:   pe.UserMessage,
		ErrorCode: string(pe.Code),
	})
	a.publishDone(schema.SegmentationDone{
		JobID:            jobID,
		Status:           string(domain.JobStatusError),
		ErrorCode:        string(pe.Code),
		Error:            pe.UserMessage,
		RecoveryHint:     pe.RecoveryHint,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
	a.clearActiveJob(jobID)
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// GetDiagnostics returns the startup dependency report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.Settings = config.FromEnv(settings)
	a.Diagnostics = a.checker.Run(a.Settings)
	return a.Diagnostics, nil
}

// GetSettings returns the active worker settings.
func (a *App) GetSettings() domain.Settings {
	return a.Settings
}

// SaveSettings persists new settings and reruns diagnostics. Settings apply
// to the next submitted job; a running job keeps the settings it started with.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	if err := a.Store.Save(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Settings, nil
}

// AverageProcessingTime returns the rolling mean of recent job durations.
func (a *App) AverageProcessingTime() time.Duration {
	return a.stats.Average()
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishProgress records progress locally and mirrors it to the bus.
func (a *App) publishProgress(jobID string, ev progress.Event) {
	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeProgress,
		Status:     domain.JobStatusRunning,
		Step:       ev.Step,
		TotalSteps: ev.TotalSteps,
		StepName:   ev.StepName,
		Percent:    ev.Percent,
	})
	if a.bus != nil {
		err := a.bus.PublishJSON(schema.SubjectSegmentationProgress, schema.SegmentationProgress{
			JobID:      jobID,
			Step:       ev.Step,
			TotalSteps: ev.TotalSteps,
			StepName:   ev.StepName,
			Percent:    ev.Percent,
			HappenedAt: time.Now().UnixMilli(),
		})
		if err != nil {
			a.logger.Warn("publish progress", "job_id", jobID, "err", err)
		}
	}
}

// publishDone emits the single terminal bus event for a job.
func (a *App) publishDone(done schema.SegmentationDone) {
	if a.bus == nil {
		return
	}
	done.HappenedAt = time.Now().UnixMilli()
	if err := a.bus.PublishJSON(schema.SubjectSegmentationDone, done); err != nil {
		a.logger.Warn("publish terminal event", "job_id", done.JobID, "err", err)
	}
}

// publishEvent stores event history in the bounded buffer.
func (a *App) publishEvent(event jobs.Event) {
	a.events.Publish(event)
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
	}
}
