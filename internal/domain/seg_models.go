package domain

// SegModelOption describes one selectable segmentation model.
type SegModelOption struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PipelineName string `json:"pipelineName"`
	NNUNetType   string `json:"nnunetType,omitempty"`
	WeightPath   string `json:"weightPath"`
	Description  string `json:"description,omitempty"`
	Available    bool   `json:"available"`
}

// SegModelCatalog lists every segmentation model the toolchain supports.
// WeightPath is relative to the pipeline installation directory; availability
// is resolved against it at startup.
func SegModelCatalog() []SegModelOption {
	return []SegModelOption{
		{
			ID:           "dosma_ananya",
			Name:         "DOSMA (Goyal 2024)",
			PipelineName: "acl_qdess_bone_july_2024",
			WeightPath:   "DOSMA_WEIGHTS/Goyal_Bone_Cart_July_2024_best_model.h5",
			Description:  "Default model, best overall performance.",
		},
		{
			ID:           "nnunet_fullres",
			Name:         "nnU-Net (full resolution)",
			PipelineName: "nnunet_knee",
			NNUNetType:   "fullres",
			WeightPath:   "DEPENDENCIES/nnunet_knee_inference/huggingface/models",
			Description:  "Full-resolution nnU-Net inference.",
		},
		{
			ID:           "nnunet_cascade",
			Name:         "nnU-Net (cascade)",
			PipelineName: "nnunet_knee",
			NNUNetType:   "cascade",
			WeightPath:   "DEPENDENCIES/nnunet_knee_inference/huggingface/models",
			Description:  "Cascade nnU-Net inference, slower but more precise.",
		},
		{
			ID:           "goyal_sagittal",
			Name:         "Goyal (sagittal)",
			PipelineName: "goyal_sagittal",
			WeightPath:   "DOSMA_WEIGHTS/sagittal_best_model.h5",
		},
		{
			ID:           "goyal_coronal",
			Name:         "Goyal (coronal)",
			PipelineName: "goyal_coronal",
			WeightPath:   "DOSMA_WEIGHTS/coronal_best_model.h5",
		},
		{
			ID:           "goyal_axial",
			Name:         "Goyal (axial)",
			PipelineName: "goyal_axial",
			WeightPath:   "DOSMA_WEIGHTS/axial_best_model.h5",
		},
	}
}

// DefaultSegModel is applied when a submission leaves the model unset.
const DefaultSegModel = "nnunet_fullres"

// SegModelByID returns the catalog entry for id.
func SegModelByID(id string) (SegModelOption, bool) {
	for _, m := range SegModelCatalog() {
		if m.ID == id {
			return m, true
		}
	}
	return SegModelOption{}, false
}

// ValidSegModelIDs returns catalog IDs in declaration order.
func ValidSegModelIDs() []string {
	catalog := SegModelCatalog()
	ids := make([]string, len(catalog))
	for i, m := range catalog {
		ids[i] = m.ID
	}
	return ids
}
