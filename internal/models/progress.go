package models

// Stage is a step of the export progress vocabulary shared by both paths.
type Stage string

const (
	StagePreparing Stage = "preparing"
	StageRendering Stage = "rendering"
	StageEncoding  Stage = "encoding"
	StageComplete  Stage = "complete"
)

// Order returns the position of the stage in the fixed sequence, -1 if unknown.
func (s Stage) Order() int {
	switch s {
	case StagePreparing:
		return 0
	case StageRendering:
		return 1
	case StageEncoding:
		return 2
	case StageComplete:
		return 3
	}
	return -1
}

// Stages lists every stage in order.
var Stages = []Stage{StagePreparing, StageRendering, StageEncoding, StageComplete}

// Progress is what the UI collaborator receives.
type Progress struct {
	Stage            Stage     `json:"stage"`
	Percent          float64   `json:"percent"`
	Message          string    `json:"message"`
	CurrentFrame     int       `json:"current_frame,omitempty"`
	TotalFrames      int       `json:"total_frames,omitempty"`
	CurrentAssetType AssetKind `json:"current_asset_type,omitempty"`
	IsSeekingVideo   bool      `json:"is_seeking_video,omitempty"`
}

// ProgressFunc is fire-and-forget.
type ProgressFunc func(Progress)
