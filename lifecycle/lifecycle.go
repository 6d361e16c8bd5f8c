package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"missing-persons-service/models"
)

// ErrInvalidTransition is returned when the requested status is not
// reachable from the report's current state. The report is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// Human-readable messages pushed to the family for each officer decision.
const (
	MsgNotifiedFamily = "A new suspect has been found. Please verify if this is your missing person."
	MsgSentTeam       = "Police have started an investigation on your sighting report."
	MsgSolved         = "Your missing person case has been marked as solved by the police."
	MsgReject         = "Your sighting report has been closed by the police."

	MsgFamilyConfirmed = "Family has confirmed this sighting report."
	MsgFamilyDenied    = "Family has denied this sighting report."
)

// Result is the outcome of a successful Apply.
type Result struct {
	// Report is a mutated copy of the input; the caller persists it.
	Report *models.SightingReport
	// TransitionID keys ledger appends so a retried orchestrator run cannot
	// double-record the same transition for the same recipient.
	TransitionID string
	// Intents describe who should be told what. Empty for no-op transitions.
	Intents []models.NotificationIntent
	// CaseStatus, when non-empty, is the new status for the parent case.
	CaseStatus string
	// NoOp is set when the requested status equals the current one and the
	// state is non-terminal: the report is returned unchanged and nothing
	// is emitted.
	NoOp bool
}

// Apply validates and applies a status transition to a sighting report. It
// is pure: no storage, no transport. The case is needed for the family
// recipient identity and the show_user visibility flag.
func Apply(report *models.SightingReport, c *models.Case, requested models.ReportStatus, actorID string) (*Result, error) {
	current := report.Status

	if current.IsTerminal() {
		return nil, fmt.Errorf("%w: report %s is already %s", ErrInvalidTransition, report.ID, current)
	}

	// Re-requesting the current status is accepted and does nothing. The
	// police dashboard retries freely, so SENT_TEAM -> SENT_TEAM must not
	// surface as an error.
	if requested == current {
		return &Result{Report: report, NoOp: true}, nil
	}

	updated := *report
	updated.Status = requested

	res := &Result{
		Report:       &updated,
		TransitionID: uuid.New().String(),
	}

	switch requested {
	case models.StatusNotifiedFamily:
		if current != models.StatusPending {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
		}
		if report.VerifiedByFamily {
			return nil, fmt.Errorf("%w: report %s already verified by family", ErrInvalidTransition, report.ID)
		}
		updated.ShowUser = true
		updated.SentVerification = true
		res.Intents = append(res.Intents, familyIntent(res.TransitionID, report, c, requested, MsgNotifiedFamily))

	case models.StatusSentTeam:
		if current != models.StatusPending && current != models.StatusNotifiedFamily {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, requested)
		}
		res.CaseStatus = models.CaseStatusInvestigating
		if report.ShowUser {
			res.Intents = append(res.Intents, familyIntent(res.TransitionID, report, c, requested, MsgSentTeam))
		}

	case models.StatusSolved:
		res.CaseStatus = models.CaseStatusFound
		// Resolution is always communicated, visible report or not.
		res.Intents = append(res.Intents, familyIntent(res.TransitionID, report, c, requested, MsgSolved))

	case models.StatusReject:
		if report.ShowUser {
			res.Intents = append(res.Intents, familyIntent(res.TransitionID, report, c, requested, MsgReject))
		}

	case models.StatusPending:
		return nil, fmt.Errorf("%w: cannot move back to %s", ErrInvalidTransition, requested)

	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, requested)
	}

	return res, nil
}

// FamilyActionIntent builds the officer-facing notification for a family
// confirm/deny. It shares the intent pipeline so the ledger-before-push
// ordering holds for family actions too.
func FamilyActionIntent(report *models.SightingReport, officerID, action string) models.NotificationIntent {
	msg := MsgFamilyDenied
	if action == models.FamilyActionConfirmed {
		msg = MsgFamilyConfirmed
	}
	return models.NotificationIntent{
		TransitionID: uuid.New().String(),
		RecipientID:  officerID,
		SubjectID:    report.ID,
		CaseID:       report.CaseID,
		EventType:    models.EventFamilyActionUpdate,
		Message:      msg,
		NewStatus:    report.Status,
	}
}

func familyIntent(transitionID string, report *models.SightingReport, c *models.Case, status models.ReportStatus, msg string) models.NotificationIntent {
	return models.NotificationIntent{
		TransitionID: transitionID,
		RecipientID:  c.ReporterID,
		SubjectID:    report.ID,
		CaseID:       c.ID,
		EventType:    models.EventPoliceActionUpdate,
		Message:      msg,
		NewStatus:    status,
	}
}
