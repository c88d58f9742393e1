package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"kneeseg-worker/internal/bus"
	"kneeseg-worker/internal/domain"
	"kneeseg-worker/internal/jobs"
	applog "kneeseg-worker/internal/log"
	"kneeseg-worker/internal/service"
	"kneeseg-worker/pkg/schema"
)

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	logger := applog.New(*verbose)
	slog.SetDefault(logger)

	app, err := service.New(service.Options{Logger: logger})
	if err != nil {
		fatal(logger, "initialize worker", err)
	}

	logger.Info("worker starting",
		"pipeline_dir", app.Settings.PipelineDir,
		"python_bin", app.Settings.PythonBin,
		"data_dir", app.Settings.DataDir,
		"timeout_seconds", app.Settings.TimeoutSeconds,
		"gpu_slots", app.Settings.GPUSlots,
	)
	logDiagnostics(logger, app.GetDiagnostics())

	natsURL := getenv("NATS_URL", "nats://127.0.0.1:4222")
	nc, err := bus.Connect(natsURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", natsURL)
	}
	logger.Info("connected to NATS", "nats_url", natsURL)
	defer nc.Close()
	app.AttachBus(nc)

	_, err = nc.QueueSubscribeJSON(schema.SubjectSegmentationRequested, schema.WorkerQueueGroup,
		func(ctx context.Context, data []byte) {
			handleRequest(app, logger, data)
		})
	if err != nil {
		fatal(logger, "subscribe to job requests", err, "subject", schema.SubjectSegmentationRequested)
	}

	_, err = nc.SubscribeJSON(schema.SubjectSegmentationCancel,
		func(ctx context.Context, data []byte) {
			handleCancel(app, logger, data)
		})
	if err != nil {
		fatal(logger, "subscribe to cancellations", err, "subject", schema.SubjectSegmentationCancel)
	}

	logger.Info("listening for jobs",
		"subject", schema.SubjectSegmentationRequested,
		"queue", schema.WorkerQueueGroup,
	)
	select {}
}

func handleRequest(app *service.App, logger *slog.Logger, data []byte) {
	var req schema.SegmentationRequested
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Warn("discard malformed job request", "err", err)
		return
	}

	job, err := app.Submit(req)
	if err != nil {
		if errors.Is(err, jobs.ErrJobAlreadyRunning) {
			logger.Warn("reject job while busy", "job_id", req.JobID)
			return
		}
		logger.Error("submit job", "job_id", req.JobID, "err", err)
		return
	}
	logger.Info("job accepted", "job_id", job.ID, "scan", job.InputPath)
}

func handleCancel(app *service.App, logger *slog.Logger, data []byte) {
	var req schema.SegmentationCancelRequested
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Warn("discard malformed cancel request", "err", err)
		return
	}

	if err := app.CancelJob(req.JobID); err != nil {
		if errors.Is(err, jobs.ErrNoRunningJob) {
			logger.Debug("cancel for inactive job", "job_id", req.JobID)
			return
		}
		logger.Error("cancel job", "job_id", req.JobID, "err", err)
		return
	}
	logger.Info("cancellation requested", "job_id", req.JobID)
}

func logDiagnostics(logger *slog.Logger, report domain.DiagnosticReport) {
	for _, item := range report.Items {
		if item.Status == domain.DiagnosticStatusFail {
			logger.Warn("diagnostic failed", "check", item.ID, "message", item.Message, "hint", item.Hint)
			continue
		}
		logger.Debug("diagnostic passed", "check", item.ID, "message", item.Message)
	}
	if report.HasFailures {
		logger.Warn("worker starting with failing diagnostics; jobs may not run")
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Error(msg, append([]any{"err", err}, attrs...)...)
	os.Exit(1)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
