package types

// ReleaseCriteria is the workspace-scoped threshold set used by the release
// decision gates. All values are percentages or scores in [0,100].
type ReleaseCriteria struct {
	WorkspaceID               int64   `json:"workspaceId,omitempty" yaml:"workspace_id,omitempty"`
	MinPassRate               float64 `json:"minPassRate" yaml:"min_pass_rate"`
	MinAvgOverallScore        float64 `json:"minAvgOverallScore" yaml:"min_avg_overall_score"`
	MaxErrorRate              float64 `json:"maxErrorRate" yaml:"max_error_rate"`
	MinImprovementNoticeDelta float64 `json:"minImprovementNoticeDelta" yaml:"min_improvement_notice_delta"`
	UpdatedBy                 string  `json:"updatedBy,omitempty" yaml:"updated_by,omitempty"`
	UpdatedAt                 string  `json:"updatedAt,omitempty" yaml:"updated_at,omitempty"`
}

// ReleaseCriteriaUpdate is the body of a criteria update request.
type ReleaseCriteriaUpdate struct {
	MinPassRate               float64 `json:"minPassRate"`
	MinAvgOverallScore        float64 `json:"minAvgOverallScore"`
	MaxErrorRate              float64 `json:"maxErrorRate"`
	MinImprovementNoticeDelta float64 `json:"minImprovementNoticeDelta"`
}

// Update returns the writable part of c.
func (c ReleaseCriteria) Update() ReleaseCriteriaUpdate {
	return ReleaseCriteriaUpdate{
		MinPassRate:               c.MinPassRate,
		MinAvgOverallScore:        c.MinAvgOverallScore,
		MaxErrorRate:              c.MaxErrorRate,
		MinImprovementNoticeDelta: c.MinImprovementNoticeDelta,
	}
}

// CriteriaAuditEntry records one immutable criteria change.
type CriteriaAuditEntry struct {
	ID                        int64   `json:"id"`
	WorkspaceID               int64   `json:"workspaceId"`
	ChangedBy                 string  `json:"changedBy"`
	ChangedAt                 string  `json:"changedAt"`
	MinPassRate               float64 `json:"minPassRate"`
	MinAvgOverallScore        float64 `json:"minAvgOverallScore"`
	MaxErrorRate              float64 `json:"maxErrorRate"`
	MinImprovementNoticeDelta float64 `json:"minImprovementNoticeDelta"`
}

// CreateRunRequest starts a new evaluation run.
type CreateRunRequest struct {
	DatasetID          int64            `json:"datasetId"`
	PromptVersionID    int64            `json:"promptVersionId"`
	Mode               EvalMode         `json:"mode"`
	RubricTemplateCode string           `json:"rubricTemplateCode"`
	RubricOverrides    *RubricOverrides `json:"rubricOverrides,omitempty"`
}

type CreateRunResponse struct {
	ID int64 `json:"id"`
}
