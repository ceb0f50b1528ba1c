package domain

// WorkflowState is the tracker's status value for a story.
type WorkflowState struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CustomField struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value,omitempty"`
}

// Story is a single trackable work item from the external tracker.
// Bucket membership is a pure function of this snapshot.
type Story struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	CreatedAt     string         `json:"created_at,omitempty" format:"date-time"`
	WorkflowState *WorkflowState `json:"workflow_state,omitempty"`
	IterationID   *int64         `json:"iteration_id,omitempty"`
	OwnerIDs      []string       `json:"owner_ids,omitempty"`
	GroupID       *string        `json:"group_id,omitempty"`
	Labels        []Label        `json:"labels,omitempty"`
	CustomFields  []CustomField  `json:"custom_fields,omitempty"`
}

// PrimaryOwner returns the first owner id, or empty when unassigned.
func (s Story) PrimaryOwner() string {
	if len(s.OwnerIDs) == 0 {
		return ""
	}
	return s.OwnerIDs[0]
}

// StateName returns the workflow state name, empty when the story has none.
func (s Story) StateName() string {
	if s.WorkflowState == nil {
		return ""
	}
	return s.WorkflowState.Name
}

type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Group struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Iteration struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status,omitempty" enum:"unstarted,started,done"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Metrics is the overall count/percentage block attached to a report.
type Metrics struct {
	Total             int `json:"total"`
	Completed         int `json:"completed"`
	InMotion          int `json:"in_motion"`
	NotStarted        int `json:"not_started"`
	CompletedPercent  int `json:"completed_percent"`
	InMotionPercent   int `json:"in_motion_percent"`
	NotStartedPercent int `json:"not_started_percent"`
}

// TeamMetrics is the per-team slice of a report's metrics.
type TeamMetrics struct {
	TeamID          string         `json:"team_id"`
	TeamName        string         `json:"team_name"`
	Metrics         Metrics        `json:"metrics"`
	StatusBreakdown map[string]int `json:"status_breakdown,omitempty"`
}

// Report is one generated narrative for an iteration, immutable once stored.
type Report struct {
	ID          string        `json:"id"`
	IterationID int64         `json:"iteration_id"`
	Report      string        `json:"report"`
	Metrics     Metrics       `json:"metrics"`
	TeamMetrics []TeamMetrics `json:"team_metrics"`
	GeneratedAt string        `json:"generated_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	IterationID int64  `json:"iteration_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	Payload     string `json:"payload_json"`
}
