// Package types defines core data structures for the leadcheck verification workflow.
package types

import (
	"fmt"
	"time"
)

// Session is one verification pass over a single lead submission
type Session struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`

	// Assignment record. Kept after the owner hands the session on so the
	// history of who worked it survives until completion.
	BufferAgentID   string `json:"buffer_agent_id,omitempty"`
	LicensedAgentID string `json:"licensed_agent_id,omitempty"`

	// Current owner. Only set while Status is in_progress. OwnerRole is the
	// slot the owner holds (buffer or licensed); a retention agent takes
	// whichever slot it claimed.
	OwnerID   string `json:"owner_id,omitempty"`
	OwnerRole Role   `json:"owner_role,omitempty"`

	Status             Status `json:"status"`
	TotalFields        int    `json:"total_fields"`
	VerifiedFields     int    `json:"verified_fields"`
	ProgressPercentage int    `json:"progress_percentage"` // Recomputed on every item mutation

	IsRetentionCall bool   `json:"is_retention_call,omitempty"`
	RetentionType   string `json:"retention_type,omitempty"`
	Notes           string `json:"notes,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress returns the derived progress metric for the session counters.
func (s *Session) Progress() Progress {
	return ComputeProgress(s.VerifiedFields, s.TotalFields)
}

// Owned reports whether an agent currently holds the session.
func (s *Session) Owned() bool {
	return s.OwnerID != ""
}

// Clone returns a shallow copy safe to mutate.
func (s *Session) Clone() *Session {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Validate checks if the session has valid field values
func (s *Session) Validate() error {
	if s.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", s.Status)
	}
	if s.OwnerID != "" && s.Status != StatusInProgress {
		return fmt.Errorf("owner %s set on %s session", s.OwnerID, s.Status)
	}
	if s.OwnerID != "" && s.OwnerRole != RoleBuffer && s.OwnerRole != RoleLicensed {
		return fmt.Errorf("invalid owner role: %s", s.OwnerRole)
	}
	if s.TotalFields < 0 || s.VerifiedFields < 0 || s.VerifiedFields > s.TotalFields {
		return fmt.Errorf("verified fields %d out of range for total %d", s.VerifiedFields, s.TotalFields)
	}
	return nil
}

// Status represents the current state of a verification session
type Status string

// Session status constants
const (
	StatusPending          Status = "pending"
	StatusInProgress       Status = "in_progress"
	StatusReadyForTransfer Status = "ready_for_transfer" // Licensed agent deferred; any licensed agent may claim
	StatusTransferred      Status = "transferred"        // Buffer agent handed off; awaiting a licensed agent
	StatusCallDropped      Status = "call_dropped"       // Call failed mid-way; back in the claimable pool
	StatusBufferDone       Status = "buffer_done"        // Buffer agent finished without escalation
	StatusLADone           Status = "la_done"            // Licensed agent finished
	StatusCompleted        Status = "completed"          // Closed by call-result intake
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusReadyForTransfer,
	StatusTransferred,
	StatusCallDropped,
	StatusBufferDone,
	StatusLADone,
	StatusCompleted,
}

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReadyForTransfer, StatusTransferred,
		StatusCallDropped, StatusBufferDone, StatusLADone, StatusCompleted:
		return true
	}
	return false
}

// IsOpen reports whether the session still counts as the open session of its submission.
func (s Status) IsOpen() bool {
	return s.IsValid() && s != StatusCompleted
}

// ParseStatus converts a user-supplied string to a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid status %q", v)
	}
	return s, nil
}

// Role is the agent role used to pick the action set
type Role string

// Agent roles
const (
	RoleBuffer    Role = "buffer"
	RoleLicensed  Role = "licensed"
	RoleRetention Role = "retention" // Orthogonal to buffer/licensed; may fill either slot
)

// IsValid checks if the role value is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleBuffer, RoleLicensed, RoleRetention:
		return true
	}
	return false
}

// ParseRole converts a user-supplied string to a Role.
func ParseRole(v string) (Role, error) {
	r := Role(v)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role %q (want buffer, licensed or retention)", v)
	}
	return r, nil
}

// Item is one checklist row for a single lead field
type Item struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	FieldName     FieldName `json:"field_name"`
	OriginalValue string    `json:"original_value"`
	VerifiedValue string    `json:"verified_value"`
	IsVerified    bool      `json:"is_verified"`
	IsModified    bool      `json:"is_modified"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FieldValue is one attribute of a lead record as returned by the lead provider.
type FieldValue struct {
	Name  FieldName `json:"name" yaml:"name"`
	Value string    `json:"value" yaml:"value"`
}

// ClaimRequest drives one claim attempt. Not persisted.
type ClaimRequest struct {
	AgentID       string `json:"agent_id"`
	Role          Role   `json:"role"`
	SessionID     string `json:"session_id,omitempty"`
	SubmissionID  string `json:"submission_id,omitempty"`
	RetentionType string `json:"retention_type,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Validate checks the request carries an agent, a role and a target.
func (r *ClaimRequest) Validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if !r.Role.IsValid() {
		return fmt.Errorf("invalid role: %q", r.Role)
	}
	if r.SessionID == "" && r.SubmissionID == "" {
		return fmt.Errorf("session id or submission id is required")
	}
	return nil
}

// EventType categorizes audit events
type EventType string

// Audit event types
const (
	EventCreated       EventType = "created"
	EventClaimed       EventType = "claimed"
	EventDropped       EventType = "dropped"
	EventFinished      EventType = "finished"
	EventTransferred   EventType = "transferred"
	EventDeferred      EventType = "deferred"
	EventClosed        EventType = "closed"
	EventFieldVerified EventType = "field_verified"
	EventFieldUpdated  EventType = "field_updated"
)

// Event is an audit row written in the same transaction as the change it records
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Actor     string    `json:"actor"`
	OldStatus Status    `json:"old_status,omitempty"`
	NewStatus Status    `json:"new_status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationType is the kind of handoff alert sent to other parties
type NotificationType string

// Handoff alerts
const (
	NotifyDropped     NotificationType = "dropped"
	NotifyTransferred NotificationType = "transferred"
	NotifyReconnected NotificationType = "reconnected" // Claim of a call_dropped session
	NotifyReady       NotificationType = "ready"       // Licensed agent deferred to another licensed agent
)

// Notification is the payload handed to the notification dispatcher
type Notification struct {
	Type            NotificationType `json:"type"`
	SessionID       string           `json:"session_id"`
	SubmissionID    string           `json:"submission_id"`
	ActorID         string           `json:"actor_id"`
	ActorName       string           `json:"actor_name"`
	Role            Role             `json:"role"`
	IsRetentionCall bool             `json:"is_retention_call"`
	Progress        Progress         `json:"progress"`
	EventID         int64            `json:"event_id,omitempty"` // Audit event of the transition that raised the alert
	At              time.Time        `json:"at"`
}

// SessionFilter is used to filter session listings
type SessionFilter struct {
	Statuses         []Status
	IncludeCompleted bool          // Completed sessions are hidden unless requested or named in Statuses
	MinLabel         ProgressLabel // Only sessions at or above this progress band
	SubmissionID     string
	AgentID          string // Matches owner or either assignment slot
	Limit            int
}
