package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kneeseg-worker/internal/classify"
	"kneeseg-worker/internal/domain"
	"kneeseg-worker/internal/gpu"
	applog "kneeseg-worker/internal/log"
	"kneeseg-worker/internal/progress"
)

// JobSpec identifies one pipeline invocation.
type JobSpec struct {
	JobID      string
	InputPath  string
	OutputDir  string
	ConfigPath string
	ModelName  string
}

// Outcome is the terminal result of one supervised pipeline run.
type Outcome struct {
	Status     domain.JobStatus
	ResultPath string
	Err        *classify.PipelineError
	Stdout     string
	Stderr     string
}

// Config contains executor construction parameters.
type Config struct {
	PythonBin     string
	ScriptPath    string
	PipelineDir   string
	Timeout       time.Duration
	SilenceWindow time.Duration
	// ExpectedTotal seeds the time-based progress estimate; nil means the
	// parser default.
	ExpectedTotal func() time.Duration
	Logger        *slog.Logger
}

// Executor supervises the external segmentation toolchain for one job at a
// time: builds the invocation, drains both output streams concurrently,
// enforces the wall-clock deadline, and classifies the outcome.
type Executor struct {
	cfg        Config
	parser     *progress.Parser
	classifier *classify.Classifier
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
}

// NewExecutor builds an executor owning its parser and classifier instances.
func NewExecutor(cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		cfg:        cfg,
		parser:     progress.NewParser(),
		classifier: classify.NewClassifier(),
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
	}
}

// outputLine is one line read from either process stream, in arrival order.
type outputLine struct {
	stderr bool
	text   string
}

// Run executes the pipeline for spec and returns its terminal outcome.
// The GPU lease is reclaimed on every exit path. onProgress is invoked only
// for strictly increasing step indexes with non-decreasing percentages;
// cancel the context to request cancellation.
func (e *Executor) Run(ctx context.Context, spec JobSpec, lease *gpu.Lease, onProgress func(progress.Event)) Outcome {
	ctx = applog.WithJob(ctx, spec.JobID)
	defer lease.Reclaim(ctx)

	if _, err := e.stat(spec.InputPath); err != nil {
		pe := e.classifier.Classify(fmt.Sprintf("input artifact missing: %v", err), classify.FaultMissingInput)
		return Outcome{Status: domain.JobStatusError, Err: &pe}
	}

	resultsDir := filepath.Join(spec.OutputDir, "pipeline_output")
	if err := e.mkdirAll(resultsDir, 0o755); err != nil {
		pe := e.classifier.Classify(fmt.Sprintf("create results directory: %v", err), classify.FaultSpawn)
		return Outcome{Status: domain.JobStatusError, Err: &pe}
	}

	cmd := e.buildCommand(spec, resultsDir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		pe := e.classifier.Classify(err.Error(), classify.FaultSpawn)
		return Outcome{Status: domain.JobStatusError, Err: &pe}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		pe := e.classifier.Classify(err.Error(), classify.FaultSpawn)
		return Outcome{Status: domain.JobStatusError, Err: &pe}
	}

	if err := cmd.Start(); err != nil {
		pe := e.classifier.Classify(err.Error(), classify.FaultSpawn)
		return Outcome{Status: domain.JobStatusError, Err: &pe}
	}

	start := time.Now()

	// Two independent readers keep both pipes drained so a chatty stderr can
	// never stall the process behind a full stdout pipe, or vice versa.
	lines := make(chan outputLine, 64)
	var readers errgroup.Group
	readers.Go(func() error { return drainStream(stdout, false, lines) })
	readers.Go(func() error { return drainStream(stderr, true, lines) })

	waitCh := make(chan error, 1)
	go func() {
		_ = readers.Wait()
		close(lines)
		waitCh <- cmd.Wait()
	}()

	deadline := time.NewTimer(e.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var stdoutBuf, stderrBuf strings.Builder
	lastStep := 0
	lastPercent := 0
	lastLineEvent := start
	fault := classify.FaultNone

	// A marker declaring a larger phase total can carry a lower percentage
	// than an earlier event, so the gate holds both fields monotone.
	publish := func(ev progress.Event) {
		if ev.Step <= lastStep || ev.Percent < lastPercent {
			return
		}
		lastStep = ev.Step
		lastPercent = ev.Percent
		if onProgress != nil {
			onProgress(ev)
		}
	}

	handleLine := func(line outputLine) {
		if line.stderr {
			stderrBuf.WriteString(line.text)
			stderrBuf.WriteByte('\n')
		} else {
			stdoutBuf.WriteString(line.text)
			stdoutBuf.WriteByte('\n')
		}
		if ev, ok := e.parser.ParseLine(line.text); ok {
			lastLineEvent = time.Now()
			publish(ev)
		}
	}

	var waitErr error
	ctxDone := ctx.Done()
wait:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			handleLine(line)
		case <-deadline.C:
			if fault == classify.FaultNone {
				fault = classify.FaultTimeout
				e.killProcessTree(cmd)
			}
		case <-ctxDone:
			ctxDone = nil
			if fault == classify.FaultNone {
				fault = classify.FaultCancelled
				e.killProcessTree(cmd)
			}
		case <-ticker.C:
			// A silent process still deserves visible progress, but a
			// time-derived estimate never outranks line-derived events and
			// never reaches the terminal phase.
			if fault != classify.FaultNone || time.Since(lastLineEvent) < e.cfg.SilenceWindow {
				continue
			}
			publish(e.parser.EstimateByTime(time.Since(start), e.expectedTotal()))
		case waitErr = <-waitCh:
			break wait
		}
	}
	for line := range leftover(lines) {
		handleLine(line)
	}

	captured := stderrBuf.String() + stdoutBuf.String()
	outcome := Outcome{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}

	switch {
	case fault == classify.FaultTimeout:
		e.cfg.Logger.WarnContext(ctx, "pipeline killed on deadline", "timeout", e.cfg.Timeout)
		pe := e.classifier.Classify(captured, classify.FaultTimeout)
		outcome.Status = domain.JobStatusError
		outcome.Err = &pe
		return outcome
	case fault == classify.FaultCancelled:
		e.cfg.Logger.InfoContext(ctx, "pipeline cancelled")
		pe := e.classifier.Classify(captured, classify.FaultCancelled)
		outcome.Status = domain.JobStatusCancelled
		outcome.Err = &pe
		return outcome
	case waitErr != nil:
		pe := e.classifier.Classify(captured, classify.FaultNone)
		outcome.Status = domain.JobStatusError
		outcome.Err = &pe
		return outcome
	}

	if !hasExpectedArtifacts(resultsDir) {
		pe := e.classifier.Classify("pipeline exited 0 but expected output artifacts are missing\n"+captured, classify.FaultNone)
		outcome.Status = domain.JobStatusError
		outcome.Err = &pe
		return outcome
	}

	resultPath, err := packageResults(spec.InputPath, spec.OutputDir, resultsDir)
	if err != nil {
		pe := e.classifier.Classify(fmt.Sprintf("package results: %v\n%s", err, captured), classify.FaultNone)
		outcome.Status = domain.JobStatusError
		outcome.Err = &pe
		return outcome
	}

	publish(progress.Event{
		Step:       progress.TotalSteps,
		TotalSteps: progress.TotalSteps,
		StepName:   "Complete",
		Percent:    100,
	})

	outcome.Status = domain.JobStatusComplete
	outcome.ResultPath = resultPath
	return outcome
}

// buildCommand constructs the toolchain invocation with a clean job-specific
// environment. The contract is argv + environment + file I/O only.
func (e *Executor) buildCommand(spec JobSpec, resultsDir string) *exec.Cmd {
	cmd := exec.Command(e.cfg.PythonBin, e.cfg.ScriptPath, spec.InputPath, resultsDir, spec.ModelName)
	cmd.Dir = e.cfg.PipelineDir
	cmd.Env = []string{
		"KNEEPIPELINE_CONFIG=" + spec.ConfigPath,
		"PYTHONPATH=" + e.cfg.PipelineDir,
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	// The process leads its own group so the deadline kill takes down any
	// children the toolchain spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// killProcessTree force-terminates the process group started for the job.
func (e *Executor) killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		// Group kill can race process exit; fall back to the direct pid.
		_ = cmd.Process.Kill()
	}
}

func (e *Executor) expectedTotal() time.Duration {
	if e.cfg.ExpectedTotal == nil {
		return 0
	}
	return e.cfg.ExpectedTotal()
}

// drainStream reads one pipe line by line into the shared ordered channel.
func drainStream(r io.Reader, stderr bool, lines chan<- outputLine) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- outputLine{stderr: stderr, text: scanner.Text()}
	}
	return scanner.Err()
}

// leftover lets the final drain loop range over an already-nil channel.
func leftover(lines chan outputLine) chan outputLine {
	if lines == nil {
		closed := make(chan outputLine)
		close(closed)
		return closed
	}
	return lines
}
