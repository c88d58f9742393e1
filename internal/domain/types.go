package domain

import "time"

// JobStatus tracks the lifecycle of a single segmentation job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusComplete  JobStatus = "complete"
	JobStatusError     JobStatus = "error"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a status can never transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusComplete, JobStatusError, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// NSM analysis selections accepted from the intake side.
const (
	NSMTypeBoneAndCart = "bone_and_cart"
	NSMTypeBoneOnly    = "bone_only"
	NSMTypeBoth        = "both"
	NSMTypeNone        = "none"
)

// Options contains user-selectable processing parameters for one job.
// A value is either wholly valid or rejected; it is never applied in part.
type Options struct {
	SegmentationModel  string   `json:"segmentation_model"`
	PerformNSM         *bool    `json:"perform_nsm,omitempty"`
	NSMType            string   `json:"nsm_type,omitempty"`
	ClipFemurTop       *bool    `json:"clip_femur_top,omitempty"`
	CartilageSmoothing *float64 `json:"cartilage_smoothing,omitempty"`
	BatchSize          *int     `json:"batch_size,omitempty"`
}

// Job stores identity, options, progress snapshot, and outcome for one run.
type Job struct {
	ID           string    `json:"id"`
	InputPath    string    `json:"inputPath"`
	OutputDir    string    `json:"outputDir"`
	Options      Options   `json:"options"`
	ConfigPath   string    `json:"configPath,omitempty"`
	Status       JobStatus `json:"status"`
	CurrentStep  int       `json:"currentStep"`
	TotalSteps   int       `json:"totalSteps"`
	StepName     string    `json:"stepName,omitempty"`
	Percent      int       `json:"percent"`
	ResultPath   string    `json:"resultPath,omitempty"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	RecoveryHint string    `json:"recoveryHint,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
}

// Settings contains worker runtime configuration.
type Settings struct {
	PipelineDir     string `json:"pipelineDir"`
	PythonBin       string `json:"pythonBin"`
	PipelineScript  string `json:"pipelineScript"`
	BaseConfigPath  string `json:"baseConfigPath"`
	DataDir         string `json:"dataDir"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
	GPUSlots        int    `json:"gpuSlots"`
	AvailableModels string `json:"availableModels,omitempty"`
}
