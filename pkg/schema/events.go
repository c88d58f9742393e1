package schema

// SegmentationRequested asks a worker to run the knee segmentation pipeline
// on one scan. Published by the intake service; consumed by the worker
// queue group.
type SegmentationRequested struct {
	JobID      string `json:"job_id"`
	ScanPath   string `json:"scan_path"`
	OutputDir  string `json:"output_dir,omitempty"`
	HappenedAt int64  `json:"happened_at"`

	Model              string   `json:"model,omitempty"`
	PerformNSM         *bool    `json:"perform_nsm,omitempty"`
	NSMType            string   `json:"nsm_type,omitempty"`
	ClipFemurTop       *bool    `json:"clip_femur_top,omitempty"`
	CartilageSmoothing *float64 `json:"cartilage_smoothing,omitempty"`
	BatchSize          *int     `json:"batch_size,omitempty"`
}

// SegmentationCancelRequested asks the worker to abort the named job.
type SegmentationCancelRequested struct {
	JobID      string `json:"job_id"`
	HappenedAt int64  `json:"happened_at"`
}

// SegmentationProgress reports one forward movement of a running job.
type SegmentationProgress struct {
	JobID      string `json:"job_id"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	StepName   string `json:"step_name"`
	Percent    int    `json:"percent"`
	HappenedAt int64  `json:"happened_at"`
}

// SegmentationDone is the single terminal event per job.
type SegmentationDone struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	ResultPath       string `json:"result_path,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	ErrorCode        string `json:"error_code,omitempty"`
	Error            string `json:"error,omitempty"`
	RecoveryHint     string `json:"recovery_hint,omitempty"`
	HappenedAt       int64  `json:"happened_at"`
}

// Subjects used on the bus.
const (
	SubjectSegmentationRequested = "kneeseg.jobs.requested"
	SubjectSegmentationCancel    = "kneeseg.jobs.cancel"
	SubjectSegmentationProgress  = "kneeseg.jobs.progress"
	SubjectSegmentationDone      = "kneeseg.jobs.done"

	WorkerQueueGroup = "kneeseg-workers"
)
