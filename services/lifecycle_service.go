package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"missing-persons-service/database"
	"missing-persons-service/facematch"
	"missing-persons-service/lifecycle"
	"missing-persons-service/locator"
	"missing-persons-service/models"
	"missing-persons-service/rabbitmq"
)

// ErrInvalidFamilyAction is returned for a family response that is neither
// CONFIRMED nor DENIED.
var ErrInvalidFamilyAction = errors.New("invalid family action")

// Store is the persistence surface the orchestrator needs. Implemented by
// database.Service; tests substitute fakes.
type Store interface {
	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id string) (*models.Case, error)
	AssignResponder(ctx context.Context, caseID, responderID string, reassign bool) error
	UpdateCaseStatus(ctx context.Context, caseID, status string) error
	ListUnassignedCases(ctx context.Context) ([]models.Case, error)

	CreateReport(ctx context.Context, r *models.SightingReport) error
	GetReport(ctx context.Context, id string) (*models.SightingReport, error)
	SaveReport(ctx context.Context, r *models.SightingReport, expectedVersion int64) error
	ListReportsByCase(ctx context.Context, caseID string) ([]models.SightingReport, error)

	AppendPoliceAction(ctx context.Context, a *models.PoliceAction) error
	LatestPoliceAction(ctx context.Context, reportID string) (*models.PoliceAction, error)

	CreateFamilyInteraction(ctx context.Context, fi *models.FamilyInteraction) error
	SetVerifiedByFamily(ctx context.Context, reportID string) error

	AppendNotification(ctx context.Context, intent models.NotificationIntent) (*models.NotificationEvent, error)
	MarkNotificationsRead(ctx context.Context, subjectID, recipientID string) (int64, error)
	UnreadNotificationCount(ctx context.Context, recipientID, subjectID string) (int, error)
	ListNotifications(ctx context.Context, recipientID string) ([]models.NotificationEvent, error)

	UpsertResponderLocation(ctx context.Context, loc *models.ResponderLocation) error
	ListResponderLocations(ctx context.Context) ([]models.ResponderLocation, error)
}

// Pusher delivers a push to the live connections of one identity. Satisfied
// by both the in-process hub and the Redis bridge.
type Pusher interface {
	Publish(identity string, msg models.PushMessage)
}

// Mirror re-publishes lifecycle events to RabbitMQ for external consumers.
type Mirror interface {
	Publish(event rabbitmq.TransitionEvent) error
}

// Matcher scores a sighting photo against the case's reference photo.
type Matcher interface {
	Enabled() bool
	Compare(ctx context.Context, referenceImage, sightingImage string) (*facematch.CompareResponse, error)
}

// LifecycleService orchestrates the report lifecycle: it loads state, runs
// the transition rules, persists the result, appends notifications to the
// ledger, and only then pushes to live connections.
type LifecycleService struct {
	store   Store
	locator *locator.Locator
	pusher  Pusher
	mirror  Mirror
	matcher Matcher

	sweepInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewLifecycleService creates the orchestrator. mirror and matcher may be
// nil when the corresponding integration is not configured.
func NewLifecycleService(store Store, loc *locator.Locator, pusher Pusher, mirror Mirror, matcher Matcher, sweepInterval time.Duration) *LifecycleService {
	return &LifecycleService{
		store:         store,
		locator:       loc,
		pusher:        pusher,
		mirror:        mirror,
		matcher:       matcher,
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// --- Cases ---

// OpenCase files a missing-person case and assigns the nearest responder to
// the last-seen location. No responder being available is not an error; the
// assignment sweep retries until one comes online.
func (s *LifecycleService) OpenCase(ctx context.Context, reporterID string, req *models.OpenCaseRequest) (*models.Case, error) {
	c := &models.Case{
		ID:                  uuid.New().String(),
		ReporterID:          reporterID,
		ReporterContact:     req.ReporterContact,
		PersonName:          req.PersonName,
		PhotoURL:            req.PhotoURL,
		LastSeenLatitude:    req.LastSeenLatitude,
		LastSeenLongitude:   req.LastSeenLongitude,
		LastSeenDescription: req.LastSeenDescription,
		Status:              models.CaseStatusMissing,
		CreatedAt:           time.Now(),
	}

	responderID, distance, err := s.locator.Nearest(ctx, c.LastSeenLatitude, c.LastSeenLongitude, nil)
	switch {
	case err == nil:
		c.AssignedResponderID = responderID
		log.Infof("Assigning responder %s to case %s (%.2f km away)", responderID, c.ID, distance)
	case errors.Is(err, locator.ErrNoResponders):
		log.Warnf("No responders available for case %s, leaving unassigned", c.ID)
	default:
		return nil, fmt.Errorf("failed to locate responder for case: %w", err)
	}

	if err := s.store.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCase returns one case.
func (s *LifecycleService) GetCase(ctx context.Context, id string) (*models.Case, error) {
	return s.store.GetCase(ctx, id)
}

// --- Sighting reports ---

// SubmitReport files a citizen sighting against an open case. When a face
// match service is configured and both photos exist the report is scored;
// scoring failures degrade to an unscored report rather than rejecting it.
func (s *LifecycleService) SubmitReport(ctx context.Context, reporterID string, req *models.SubmitReportRequest) (*models.SightingReport, error) {
	c, err := s.store.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	sightedAt := time.Now()
	if req.SightedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, req.SightedAt); err == nil {
			sightedAt = parsed
		} else {
			log.Warnf("Unparseable sighted_at %q, using submission time", req.SightedAt)
		}
	}

	r := &models.SightingReport{
		ID:           uuid.New().String(),
		CaseID:       c.ID,
		ReporterID:   reporterID,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		SightedAt:    sightedAt,
		Observations: req.Observations,
		PhotoURL:     req.PhotoURL,
		Status:       models.StatusPending,
		Version:      1,
		CreatedAt:    time.Now(),
	}

	if s.matcher != nil && s.matcher.Enabled() && c.PhotoURL != "" && r.PhotoURL != "" {
		if scored, err := s.matcher.Compare(ctx, c.PhotoURL, r.PhotoURL); err != nil {
			log.Warnf("Face match scoring failed for report %s: %v", r.ID, err)
		} else {
			r.Similarity = &scored.Similarity
			r.AnnotatedPhotoURL = scored.AnnotatedSightingImage
		}
	}

	if err := s.store.CreateReport(ctx, r); err != nil {
		return nil, err
	}
	log.Infof("Sighting report %s filed against case %s", r.ID, c.ID)
	return r, nil
}

// GetReport returns one sighting report.
func (s *LifecycleService) GetReport(ctx context.Context, id string) (*models.SightingReport, error) {
	return s.store.GetReport(ctx, id)
}

// ListReportsByCase returns every sighting report filed against a case.
func (s *LifecycleService) ListReportsByCase(ctx context.Context, caseID string) ([]models.SightingReport, error) {
	return s.store.ListReportsByCase(ctx, caseID)
}

// --- Transitions ---

// HandleStatusChange runs one officer decision through the state machine.
//
// Ordering matters: the report save carries the optimistic version check, so
// it goes first and acts as the claim on this transition. Only one of two
// racing officers gets past it; the loser sees ErrVersionConflict and no
// side effects. After the claim, each notification is appended to the ledger
// before its push goes out, so a reader who got the push can always find the
// event in the ledger.
func (s *LifecycleService) HandleStatusChange(ctx context.Context, reportID, actorID string, requested models.ReportStatus, remarks string) (*models.TransitionResponse, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.GetCase(ctx, report.CaseID)
	if err != nil {
		return nil, err
	}

	res, err := lifecycle.Apply(report, c, requested, actorID)
	if err != nil {
		return nil, err
	}
	if res.NoOp {
		log.Infof("Report %s already %s, nothing to do", report.ID, requested)
		return &models.TransitionResponse{Report: report}, nil
	}

	if err := s.store.SaveReport(ctx, res.Report, report.Version); err != nil {
		return nil, err
	}

	action := &models.PoliceAction{
		ReportID: report.ID,
		PoliceID: actorID,
		Action:   string(requested),
		Remarks:  remarks,
	}
	if err := s.store.AppendPoliceAction(ctx, action); err != nil {
		return nil, err
	}

	if res.CaseStatus != "" {
		if err := s.store.UpdateCaseStatus(ctx, c.ID, res.CaseStatus); err != nil {
			return nil, err
		}
	}

	events, err := s.dispatchIntents(ctx, res.Intents)
	if err != nil {
		return nil, err
	}

	if s.mirror != nil {
		event := rabbitmq.TransitionEvent{
			TransitionID: res.TransitionID,
			ReportID:     report.ID,
			CaseID:       c.ID,
			NewStatus:    string(requested),
			ActorID:      actorID,
			Timestamp:    time.Now(),
		}
		if err := s.mirror.Publish(event); err != nil {
			log.Warnf("Failed to mirror transition %s: %v", res.TransitionID, err)
		}
	}

	log.Infof("Report %s moved %s -> %s by %s", report.ID, report.Status, requested, actorID)
	return &models.TransitionResponse{Report: res.Report, EmittedNotifications: events}, nil
}

// dispatchIntents appends each intent to the ledger and then pushes it. A
// failed append aborts before any push for that intent; a push has no
// failure mode the caller cares about.
func (s *LifecycleService) dispatchIntents(ctx context.Context, intents []models.NotificationIntent) ([]models.NotificationEvent, error) {
	var events []models.NotificationEvent
	for _, intent := range intents {
		event, err := s.store.AppendNotification(ctx, intent)
		if err != nil {
			return nil, fmt.Errorf("failed to record notification for recipient %s: %w", intent.RecipientID, err)
		}
		events = append(events, *event)

		s.pusher.Publish(intent.RecipientID, models.PushMessage{
			SubjectID: intent.SubjectID,
			CaseID:    intent.CaseID,
			EventType: intent.EventType,
			Message:   intent.Message,
			NewStatus: intent.NewStatus,
			Timestamp: time.Now(),
		})
	}
	return events, nil
}

// --- Family actions ---

// RecordFamilyAction stores the family's confirm/deny for a report and
// notifies the officer who handled it. A confirmation also marks the report
// verified; a denial leaves verification untouched.
func (s *LifecycleService) RecordFamilyAction(ctx context.Context, reportID, action, notes string) (*models.FamilyInteraction, error) {
	if action != models.FamilyActionConfirmed && action != models.FamilyActionDenied {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFamilyAction, action)
	}

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !report.SentVerification {
		return nil, fmt.Errorf("%w: report %s was never sent for verification", ErrInvalidFamilyAction, reportID)
	}

	fi := &models.FamilyInteraction{
		ReportID:  report.ID,
		Response:  action,
		Notes:     notes,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateFamilyInteraction(ctx, fi); err != nil {
		return nil, err
	}

	if action == models.FamilyActionConfirmed {
		if err := s.store.SetVerifiedByFamily(ctx, report.ID); err != nil {
			return nil, err
		}
	}

	officerID := s.handlingOfficer(ctx, report)
	if officerID == "" {
		log.Warnf("No officer on record for report %s, skipping family action notification", report.ID)
		return fi, nil
	}

	intent := lifecycle.FamilyActionIntent(report, officerID, action)
	if _, err := s.dispatchIntents(ctx, []models.NotificationIntent{intent}); err != nil {
		return nil, err
	}
	return fi, nil
}

// handlingOfficer resolves who gets told about a family action: the officer
// behind the latest action on the report, falling back to the case's
// assigned responder.
func (s *LifecycleService) handlingOfficer(ctx context.Context, report *models.SightingReport) string {
	if latest, err := s.store.LatestPoliceAction(ctx, report.ID); err == nil {
		return latest.PoliceID
	} else if !errors.Is(err, database.ErrNotFound) {
		log.Warnf("Failed to look up latest police action for report %s: %v", report.ID, err)
	}

	c, err := s.store.GetCase(ctx, report.CaseID)
	if err != nil {
		log.Warnf("Failed to load case %s for report %s: %v", report.CaseID, report.ID, err)
		return ""
	}
	return c.AssignedResponderID
}

// --- Notifications ---

// MarkReportNotificationsRead marks every unread event a recipient holds for
// one report.
func (s *LifecycleService) MarkReportNotificationsRead(ctx context.Context, subjectID, recipientID string) (int64, error) {
	return s.store.MarkNotificationsRead(ctx, subjectID, recipientID)
}

// UnreadCount counts a recipient's unread events, optionally scoped to one
// report.
func (s *LifecycleService) UnreadCount(ctx context.Context, recipientID, subjectID string) (int, error) {
	return s.store.UnreadNotificationCount(ctx, recipientID, subjectID)
}

// ListNotifications returns a recipient's full ledger view, newest first.
func (s *LifecycleService) ListNotifications(ctx context.Context, recipientID string) ([]models.NotificationEvent, error) {
	return s.store.ListNotifications(ctx, recipientID)
}

// --- Responder locations ---

// UpdateResponderLocation records a responder's location ping.
func (s *LifecycleService) UpdateResponderLocation(ctx context.Context, responderID string, req *models.UpdateLocationRequest) error {
	return s.store.UpsertResponderLocation(ctx, &models.ResponderLocation{
		ResponderID: responderID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
}

// NearestResponder answers an ad-hoc nearest-responder query.
func (s *LifecycleService) NearestResponder(ctx context.Context, lat, lng float64) (string, float64, error) {
	return s.locator.Nearest(ctx, lat, lng, nil)
}

// --- Assignment sweep ---

// Start launches the background sweep that retries assignment for cases
// opened while no responder was available.
func (s *LifecycleService) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
	log.Infof("Assignment sweep started with interval %v", s.sweepInterval)
}

// Stop terminates the sweep and waits for it to finish.
func (s *LifecycleService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info("Assignment sweep stopped")
}

func (s *LifecycleService) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopChan:
			return
		}
	}
}

func (s *LifecycleService) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cases, err := s.store.ListUnassignedCases(ctx)
	if err != nil {
		log.Errorf("Assignment sweep failed to list cases: %v", err)
		return
	}

	for i := range cases {
		c := &cases[i]
		responderID, distance, err := s.locator.Nearest(ctx, c.LastSeenLatitude, c.LastSeenLongitude, nil)
		if errors.Is(err, locator.ErrNoResponders) {
			return
		}
		if err != nil {
			log.Errorf("Assignment sweep failed to locate responder for case %s: %v", c.ID, err)
			continue
		}
		if err := s.store.AssignResponder(ctx, c.ID, responderID, false); err != nil {
			log.Errorf("Assignment sweep failed to assign case %s: %v", c.ID, err)
			continue
		}
		log.Infof("Assignment sweep assigned responder %s to case %s (%.2f km away)", responderID, c.ID, distance)
	}
}
