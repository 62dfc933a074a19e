package domain

import (
	"time"
)

// DistrictAssignment is the per-district record a resolution pass produces:
// the net intervention mix and display color the rendering layers consume.
type DistrictAssignment struct {
	DistrictID     string         `json:"districtId"`
	DistrictName   string         `json:"districtName,omitempty"`
	Assignments    map[int]int    `json:"interventionCategoryAssignments"`
	MixLabel       string         `json:"interventionMixLabel"`
	Color          string         `json:"ruleColor"`
	CategoryColors map[int]string `json:"categoryColors,omitempty"`
}

// Resolution is a snapshot of one full resolution pass over a workspace.
type Resolution struct {
	ID          string               `json:"id"`
	WorkspaceID string               `json:"workspaceId"`
	Policy      Policy               `json:"policy"`
	Districts   []DistrictAssignment `json:"districts"`
	Timestamp   time.Time            `json:"timestamp"`
	Metadata    ResolutionMetadata   `json:"metadata"`
}

// EngineVersion identifies the resolution engine build recorded in snapshots.
const EngineVersion = "1.0.0"

// ResolutionMetadata carries processing information for a pass.
type ResolutionMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	ResolveMs     int64  `json:"resolveMs"`
	DistrictCount int    `json:"districtCount"`
	RuleCount     int    `json:"ruleCount"`
	EngineVersion string `json:"engineVersion"`
}
