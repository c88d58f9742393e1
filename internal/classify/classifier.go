package classify

import (
	"fmt"
	"strings"
)

// Code identifies one entry of the closed failure taxonomy.
type Code string

const (
	CodeConfigValidation   Code = "CONFIG_VALIDATION"
	CodeInputNotFound      Code = "INPUT_NOT_FOUND"
	CodeInputFormatInvalid Code = "INPUT_FORMAT_INVALID"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeTimeout            Code = "TIMEOUT"
	CodeCancelled          Code = "CANCELLED"
	CodeProcessSpawn       Code = "PROCESS_SPAWN_FAILURE"
	CodeDomainComputation  Code = "DOMAIN_COMPUTATION_FAILURE"
	CodeUnknown            Code = "UNKNOWN"
)

// Fault identifies an internal execution condition known before any output
// inspection. A non-zero fault maps directly to its code.
type Fault int

const (
	FaultNone Fault = iota
	FaultTimeout
	FaultCancelled
	FaultSpawn
	FaultMissingInput
)

// PipelineError is the structured, user-facing classification of a failure.
// UserMessage and RecoveryHint are fixed per code; TechnicalDetail carries
// raw captured output for operator diagnostics only.
type PipelineError struct {
	Code            Code   `json:"code"`
	UserMessage     string `json:"userMessage"`
	RecoveryHint    string `json:"recoveryHint,omitempty"`
	TechnicalDetail string `json:"-"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.UserMessage)
}

// message holds the fixed user-facing strings for one code.
type message struct {
	user string
	hint string
}

var messages = map[Code]message{
	CodeConfigValidation: {
		user: "There was an error with the processing configuration.",
		hint: "Please try again with default settings or contact support.",
	},
	CodeInputNotFound: {
		user: "The uploaded file could not be found.",
		hint: "Please try uploading the file again.",
	},
	CodeInputFormatInvalid: {
		user: "The uploaded file format is not supported.",
		hint: "Please upload a NIfTI (.nii, .nii.gz), NRRD (.nrrd), or DICOM zip file.",
	},
	CodeResourceExhausted: {
		user: "The GPU ran out of memory while processing your file.",
		hint: "Try reducing the batch size, using a different segmentation model, or processing a smaller image.",
	},
	CodeTimeout: {
		user: "Processing took longer than expected and was stopped.",
		hint: "Your file may be very large. Try processing a smaller region or contact support.",
	},
	CodeCancelled: {
		user: "Processing was cancelled before it finished.",
	},
	CodeProcessSpawn: {
		user: "The processing pipeline could not be started.",
		hint: "This is a server-side problem. Please try again later or contact support.",
	},
	CodeDomainComputation: {
		user: "The segmentation analysis failed to complete.",
		hint: "The image quality may be insufficient. Try a different segmentation model, or run without NSM.",
	},
	CodeUnknown: {
		user: "An unexpected error occurred during processing.",
		hint: "Please try again. If the problem persists, contact support.",
	},
}

// patternRule maps output substrings to a code; first match wins.
type patternRule struct {
	needles []string
	code    Code
}

// Classifier maps captured output and execution faults onto the taxonomy.
// The pattern table is immutable instance data, ordered by precedence.
type Classifier struct {
	patterns []patternRule
}

// NewClassifier builds a classifier with the fixed ordered pattern table.
func NewClassifier() *Classifier {
	return &Classifier{
		patterns: []patternRule{
			{
				needles: []string{"cuda out of memory", "out of memory", "cuda error", "cudnn error", "gpu memory", "oom"},
				code:    CodeResourceExhausted,
			},
			{
				needles: []string{"timeout", "timed out"},
				code:    CodeTimeout,
			},
			{
				needles: []string{"no such file", "not found", "does not exist"},
				code:    CodeInputNotFound,
			},
			{
				needles: []string{"invalid format", "unsupported format", "cannot read", "not a valid", "dicom"},
				code:    CodeInputFormatInvalid,
			},
			{
				needles: []string{"segmentation failed", "segmentation error", "no segmentation"},
				code:    CodeDomainComputation,
			},
			{
				needles: []string{"nsm error", "nsm failed", "shape model", "bscore error"},
				code:    CodeDomainComputation,
			},
			{
				needles: []string{"config error", "invalid config", "missing config"},
				code:    CodeConfigValidation,
			},
		},
	}
}

// Classify determines the taxonomy entry for a failed execution. A known
// fault maps directly to its code and bypasses output inspection; otherwise
// the captured output is scanned case-insensitively against the pattern
// table and the first matching rule wins. Unmatched output yields UNKNOWN.
func (c *Classifier) Classify(capturedOutput string, fault Fault) PipelineError {
	switch fault {
	case FaultTimeout:
		return c.errorFor(CodeTimeout, capturedOutput)
	case FaultCancelled:
		return c.errorFor(CodeCancelled, capturedOutput)
	case FaultSpawn:
		return c.errorFor(CodeProcessSpawn, capturedOutput)
	case FaultMissingInput:
		return c.errorFor(CodeInputNotFound, capturedOutput)
	}

	lower := strings.ToLower(capturedOutput)
	for _, rule := range c.patterns {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return c.errorFor(rule.code, capturedOutput)
			}
		}
	}

	return c.errorFor(CodeUnknown, capturedOutput)
}

// ErrorFor returns the fixed PipelineError for code with detail attached.
func (c *Classifier) ErrorFor(code Code, detail string) PipelineError {
	return c.errorFor(code, detail)
}

func (c *Classifier) errorFor(code Code, detail string) PipelineError {
	msg, ok := messages[code]
	if !ok {
		msg = messages[CodeUnknown]
		code = CodeUnknown
	}
	return PipelineError{
		Code:            code,
		UserMessage:     msg.user,
		RecoveryHint:    msg.hint,
		TechnicalDetail: detail,
	}
}
