package runconfig

import (
	"fmt"
	"strings"

	"kneeseg-worker/internal/domain"
)

// Numeric bounds for user-tunable parameters.
const (
	MinCartilageSmoothing = 0.0
	MaxCartilageSmoothing = 2.0
	MinBatchSize          = 1
	MaxBatchSize          = 256
)

// FieldError describes one invalid Options field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every failing field, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "invalid options"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid options: " + strings.Join(parts, "; ")
}

// ValidateOptions checks every field against its declared domain and returns
// a *ValidationError enumerating all violations, or nil when opts is valid.
func ValidateOptions(opts domain.Options) error {
	var fields []FieldError

	model := opts.SegmentationModel
	if model == "" {
		model = domain.DefaultSegModel
	}
	if _, ok := domain.SegModelByID(model); !ok {
		fields = append(fields, FieldError{
			Field: "segmentation_model",
			Message: fmt.Sprintf("unknown model %q, must be one of: %s",
				opts.SegmentationModel, strings.Join(domain.ValidSegModelIDs(), ", ")),
		})
	}

	nsmType := opts.NSMType
	if nsmType == "" {
		nsmType = domain.NSMTypeBoneAndCart
	}
	switch nsmType {
	case domain.NSMTypeBoneAndCart, domain.NSMTypeBoneOnly, domain.NSMTypeBoth, domain.NSMTypeNone:
	default:
		fields = append(fields, FieldError{
			Field: "nsm_type",
			Message: fmt.Sprintf("unknown type %q, must be one of: %s, %s, %s, %s",
				opts.NSMType, domain.NSMTypeBoneAndCart, domain.NSMTypeBoneOnly,
				domain.NSMTypeBoth, domain.NSMTypeNone),
		})
	}

	if opts.CartilageSmoothing != nil {
		v := *opts.CartilageSmoothing
		if v < MinCartilageSmoothing || v > MaxCartilageSmoothing {
			fields = append(fields, FieldError{
				Field: "cartilage_smoothing",
				Message: fmt.Sprintf("must be between %.1f and %.1f, got %g",
					MinCartilageSmoothing, MaxCartilageSmoothing, v),
			})
		}
	}

	if opts.BatchSize != nil {
		v := *opts.BatchSize
		if v < MinBatchSize || v > MaxBatchSize {
			fields = append(fields, FieldError{
				Field: "batch_size",
				Message: fmt.Sprintf("must be between %d and %d, got %d",
					MinBatchSize, MaxBatchSize, v),
			})
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
