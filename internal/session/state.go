// Package session defines the orchestrator's data model: Session, PlanItem,
// Artifact, and ErrorRecord, along with the invariant-preserving helper
// methods the graph runtime and node kinds operate through.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is a Session's lifecycle state.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ItemStatus is a PlanItem's lifecycle state.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// Severity grades an ErrorRecord.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Role gates which planner templates are available to a user.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ArtifactKind classifies a produced output.
type ArtifactKind string

const (
	KindImage    ArtifactKind = "image"
	KindVideo    ArtifactKind = "video"
	KindAudio    ArtifactKind = "audio"
	KindDocument ArtifactKind = "document"
	KindUnknown  ArtifactKind = "unknown"
)

// UserContext identifies who is running a session and where to deliver
// results. The delivery channel itself is an external collaborator; this is
// just the addressing record the core passes through to the Reporter.
type UserContext struct {
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
	Channel string `json:"channel"`
}

// PlanItem is one unit of work within a session's plan.
type PlanItem struct {
	ID                 string                 `json:"id"`
	Action             string                 `json:"action"`
	Params             map[string]interface{} `json:"params"`
	Dependencies       []string               `json:"dependencies"`
	Status             ItemStatus             `json:"status"`
	RetryCount         int                    `json:"retry_count"`
	MaxRetries         int                    `json:"max_retries"`
	EstimatedDurationS int                    `json:"estimated_duration_s"`
	RequiresGPU        bool                   `json:"requires_gpu"`
	GPUFamily          string                 `json:"gpu_family,omitempty"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
}

// DependenciesSatisfied reports whether every dependency of this item is
// completed within the given plan.
func (p *PlanItem) DependenciesSatisfied(byID map[string]*PlanItem) bool {
	for _, dep := range p.Dependencies {
		d, ok := byID[dep]
		if !ok || d.Status != ItemCompleted {
			return false
		}
	}
	return true
}

// CanRetry reports whether a failed item may re-enter running.
func (p *PlanItem) CanRetry() bool {
	return p.Status == ItemFailed && p.RetryCount < p.MaxRetries
}

// Artifact is an immutable produced output.
type Artifact struct {
	ID          string       `json:"id"`
	Path        string       `json:"path"`
	Kind        ArtifactKind `json:"kind"`
	PlanItemID  string       `json:"plan_item_id"`
	SizeBytes   int64        `json:"size_bytes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ErrorRecord is a failure observation attached to a session (and usually a
// plan item).
type ErrorRecord struct {
	ID         string                 `json:"id"`
	PlanItemID string                 `json:"plan_item_id,omitempty"`
	Severity   Severity               `json:"severity"`
	Message    string                 `json:"message"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// RetryBudget tracks the session-wide retry allowance.
type RetryBudget struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}

// Remaining reports how many retries are left.
func (b RetryBudget) Remaining() int { return b.Total - b.Used }

// Exhausted reports whether the session has used its entire retry budget.
func (b RetryBudget) Exhausted() bool { return b.Used >= b.Total }

// State is a Session: an orchestrator run. It is the state type the
// engine operates over.
type State struct {
	SessionID   string        `json:"session_id"`
	User        UserContext   `json:"user"`
	Goal        string        `json:"goal"`
	Plan        []PlanItem    `json:"plan"`
	CurrentStep int           `json:"current_step"`
	Status      Status        `json:"status"`
	Retries     RetryBudget   `json:"retries"`
	Artifacts   []Artifact    `json:"artifacts"`
	Errors      []ErrorRecord `json:"errors"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Cancelled   bool          `json:"cancelled"`

	// NextItemID is the plan item the Decider selected for this tick. It is
	// set by the Decider node and consumed (then cleared) by the Executor
	// node; it carries no meaning once the tick completes.
	NextItemID string `json:"next_item_id,omitempty"`

	// NextNode is the node kind the graph runtime will dispatch on its next
	// tick, persisted alongside the rest of the state so resume can re-enter
	// at the correct point after a restart. Empty once the run has reached
	// a terminal node.
	NextNode string `json:"next_node,omitempty"`
}

// New constructs a fresh planning-stage session state.
func New(sessionID string, user UserContext, goal string, retryBudget int) State {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := timeNow()
	return State{
		SessionID: sessionID,
		User:      user,
		Goal:      goal,
		Status:    StatusPlanning,
		Retries:   RetryBudget{Total: retryBudget},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// timeNow exists so tests can observe a single call site; production uses
// wall-clock time.
var timeNow = time.Now

// ItemByID indexes the plan by id.
func (s *State) ItemByID() map[string]*PlanItem {
	m := make(map[string]*PlanItem, len(s.Plan))
	for i := range s.Plan {
		m[s.Plan[i].ID] = &s.Plan[i]
	}
	return m
}

// PendingItems returns plan items not yet completed, failed (exhausted), or
// skipped.
func (s *State) PendingItems() []*PlanItem {
	var out []*PlanItem
	for i := range s.Plan {
		if s.Plan[i].Status == ItemPending {
			out = append(out, &s.Plan[i])
		}
	}
	return out
}

// FailedItems returns plan items currently in the failed state.
func (s *State) FailedItems() []*PlanItem {
	var out []*PlanItem
	for i := range s.Plan {
		if s.Plan[i].Status == ItemFailed {
			out = append(out, &s.Plan[i])
		}
	}
	return out
}

// RunningGPUCount returns how many plan items requiring GPU are currently
// running.
func (s *State) RunningGPUCount() int {
	n := 0
	for i := range s.Plan {
		if s.Plan[i].Status == ItemRunning && s.Plan[i].RequiresGPU {
			n++
		}
	}
	return n
}

// HasCriticalErrors reports whether any recorded error is Critical.
func (s *State) HasCriticalErrors() bool {
	for _, e := range s.Errors {
		if e.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// FailedFraction reports the proportion of plan items in a terminal failed
// state, used by the 50%-failed-steps abort rule.
func (s *State) FailedFraction() float64 {
	if len(s.Plan) == 0 {
		return 0
	}
	failed := 0
	for i := range s.Plan {
		if s.Plan[i].Status == ItemFailed {
			failed++
		}
	}
	return float64(failed) / float64(len(s.Plan))
}

// AddArtifact appends a produced artifact and touches UpdatedAt.
func (s *State) AddArtifact(a Artifact) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = timeNow()
	}
	s.Artifacts = append(s.Artifacts, a)
	s.UpdatedAt = timeNow()
}

// AddError appends an error record; a critical severity forces the session
// to failed, per the ErrorRecord invariant.
func (s *State) AddError(severity Severity, planItemID, message string, detail map[string]interface{}) {
	s.Errors = append(s.Errors, ErrorRecord{
		ID:         uuid.NewString(),
		PlanItemID: planItemID,
		Severity:   severity,
		Message:    message,
		Detail:     detail,
		Timestamp:  timeNow(),
	})
	if severity == SeverityCritical {
		s.Status = StatusFailed
	}
	s.UpdatedAt = timeNow()
}

// RecentErrors returns up to n of the most recently recorded errors, newest
// first, for the Reporter's bounded error summary.
func (s *State) RecentErrors(n int) []ErrorRecord {
	if n > len(s.Errors) {
		n = len(s.Errors)
	}
	out := make([]ErrorRecord, n)
	for i := 0; i < n; i++ {
		out[i] = s.Errors[len(s.Errors)-1-i]
	}
	return out
}

// Terminal reports whether the session has reached a state that forbids
// further mutation.
func (s *State) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed || s.Status == StatusCancelled
}

// Clone returns a deep-enough copy for checkpoint-delta diffing: slices are
// copied so later in-place mutation of s does not alias the snapshot.
func (s State) Clone() State {
	out := s
	out.Plan = append([]PlanItem(nil), s.Plan...)
	out.Artifacts = append([]Artifact(nil), s.Artifacts...)
	out.Errors = append([]ErrorRecord(nil), s.Errors...)
	return out
}
