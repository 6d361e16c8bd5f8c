package models

import (
	"fmt"
	"time"
)

// ReportStatus is the closed set of sighting report states. Unknown values
// are rejected at the boundary by ParseReportStatus.
type ReportStatus string

const (
	StatusPending        ReportStatus = "PENDING"
	StatusNotifiedFamily ReportStatus = "NOTIFIED_FAMILY"
	StatusSentTeam       ReportStatus = "SENT_TEAM"
	StatusSolved         ReportStatus = "SOLVED"
	StatusReject         ReportStatus = "REJECT"
)

// ParseReportStatus validates a raw status string coming from a client.
func ParseReportStatus(s string) (ReportStatus, error) {
	switch ReportStatus(s) {
	case StatusPending, StatusNotifiedFamily, StatusSentTeam, StatusSolved, StatusReject:
		return ReportStatus(s), nil
	}
	return "", fmt.Errorf("unknown report status %q", s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s ReportStatus) IsTerminal() bool {
	return s == StatusSolved || s == StatusReject
}

// Case statuses mirror the missing person record, not the report lifecycle.
const (
	CaseStatusMissing       = "Missing"
	CaseStatusInvestigating = "Investigating"
	CaseStatusFound         = "Found"
)

// Case represents a filed missing-person record.
type Case struct {
	ID                  string    `json:"id" db:"id"`
	ReporterID          string    `json:"reporter_id" db:"reporter_id"`
	ReporterContact     string    `json:"reporter_contact" db:"reporter_contact"`
	PersonName          string    `json:"person_name" db:"person_name"`
	PhotoURL            string    `json:"photo_url,omitempty" db:"photo_url"`
	LastSeenLatitude    float64   `json:"last_seen_latitude" db:"last_seen_latitude"`
	LastSeenLongitude   float64   `json:"last_seen_longitude" db:"last_seen_longitude"`
	LastSeenDescription string    `json:"last_seen_description" db:"last_seen_description"`
	Status              string    `json:"status" db:"status"`
	AssignedResponderID string    `json:"assigned_responder_id,omitempty" db:"assigned_responder_id"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// SightingReport is a citizen's claim of having seen the person in a Case.
// Version backs the optimistic concurrency check on every save.
type SightingReport struct {
	ID                string       `json:"id" db:"id"`
	CaseID            string       `json:"case_id" db:"case_id"`
	ReporterID        string       `json:"reporter_id" db:"reporter_id"`
	Latitude          float64      `json:"latitude" db:"latitude"`
	Longitude         float64      `json:"longitude" db:"longitude"`
	SightedAt         time.Time    `json:"sighted_at" db:"sighted_at"`
	Observations      string       `json:"observations" db:"observations"`
	PhotoURL          string       `json:"photo_url,omitempty" db:"photo_url"`
	Similarity        *float64     `json:"similarity,omitempty" db:"similarity"`
	AnnotatedPhotoURL string       `json:"annotated_photo_url,omitempty" db:"annotated_photo_url"`
	Status            ReportStatus `json:"status" db:"status"`
	ShowUser          bool         `json:"show_user" db:"show_user"`
	SentVerification  bool         `json:"sent_verification" db:"sent_verification"`
	VerifiedByFamily  bool         `json:"verified_by_family" db:"verified_by_family"`
	Version           int64        `json:"version" db:"version"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}

// PoliceAction is one officer decision applied to a report. Rows are
// append-only; the latest one wins for display.
type PoliceAction struct {
	ID        int64     `json:"id" db:"id"`
	ReportID  string    `json:"report_id" db:"report_id"`
	PoliceID  string    `json:"police_id" db:"police_id"`
	Action    string    `json:"action" db:"action"`
	Remarks   string    `json:"remarks,omitempty" db:"remarks"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Family responses to a sighting report.
const (
	FamilyActionConfirmed = "CONFIRMED"
	FamilyActionDenied    = "DENIED"
)

// FamilyInteraction is the family's response to a report. At most one per
// report; immutable once recorded.
type FamilyInteraction struct {
	ReportID  string    `json:"report_id" db:"report_id"`
	Response  string    `json:"response" db:"response"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Notification event types.
const (
	EventPoliceActionUpdate = "POLICE_ACTION_UPDATE"
	EventFamilyActionUpdate = "FAMILY_ACTION_UPDATE"
)

// NotificationIntent is the state machine's declarative output: who should
// be told what. The orchestrator turns intents into ledger entries and
// pushes; the state machine itself never touches storage or transport.
type NotificationIntent struct {
	TransitionID string       `json:"transition_id"`
	RecipientID  string       `json:"recipient_id"`
	SubjectID    string       `json:"subject_id"`
	CaseID       string       `json:"case_id"`
	EventType    string       `json:"event_type"`
	Message      string       `json:"message"`
	NewStatus    ReportStatus `json:"new_status"`
}

// NotificationEvent is an immutable ledger entry. Read state is scoped to
// one recipient and only ever moves false -> true.
type NotificationEvent struct {
	ID           int64        `json:"id" db:"id"`
	TransitionID string       `json:"transition_id" db:"transition_id"`
	RecipientID  string       `json:"recipient_id" db:"recipient_id"`
	SubjectID    string       `json:"subject_id" db:"subject_id"`
	CaseID       string       `json:"case_id" db:"case_id"`
	EventType    string       `json:"event_type" db:"event_type"`
	Message      string       `json:"message" db:"message"`
	NewStatus    ReportStatus `json:"new_status" db:"new_status"`
	Read         bool         `json:"read" db:"is_read"`
	ReadAt       *time.Time   `json:"read_at,omitempty" db:"read_at"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// PushMessage is what goes over a live connection. Clients treat it as a
// hint and reconcile against the ledger on reconnect.
type PushMessage struct {
	SubjectID string       `json:"subject_id"`
	CaseID    string       `json:"case_id,omitempty"`
	EventType string       `json:"event_type"`
	Message   string       `json:"message"`
	NewStatus ReportStatus `json:"new_status,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ResponderLocation is the current geographic point for an active responder.
// One live point per responder; overwritten, not versioned.
type ResponderLocation struct {
	ResponderID string    `json:"responder_id" db:"responder_id"`
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// OpenCaseRequest is the payload for creating a missing-person case.
type OpenCaseRequest struct {
	ReporterContact     string  `json:"reporter_contact"`
	PersonName          string  `json:"person_name" binding:"required"`
	PhotoURL            string  `json:"photo_url"`
	LastSeenLatitude    float64 `json:"last_seen_latitude"`
	LastSeenLongitude   float64 `json:"last_seen_longitude"`
	LastSeenDescription string  `json:"last_seen_description"`
}

// SubmitReportRequest is the payload for filing a sighting report.
type SubmitReportRequest struct {
	CaseID       string  `json:"case_id" binding:"required"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	SightedAt    string  `json:"sighted_at"`
	Observations string  `json:"observations"`
	PhotoURL     string  `json:"photo_url"`
}

// TransitionRequest is the payload for the status-update entry point.
type TransitionRequest struct {
	Status  string `json:"status" binding:"required"`
	Remarks string `json:"remarks"`
}

// TransitionResponse returns the mutated report and every notification the
// transition emitted.
type TransitionResponse struct {
	Report               *SightingReport     `json:"report"`
	EmittedNotifications []NotificationEvent `json:"emitted_notifications"`
}

// FamilyActionRequest is the payload for a family confirm/deny.
type FamilyActionRequest struct {
	Action string `json:"action" binding:"required"`
	Notes  string `json:"notes"`
}

// UpdateLocationRequest is the payload for a responder location ping.
type UpdateLocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int    `json:"connected_clients"`
}
