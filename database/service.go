package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"

	"missing-persons-service/config"
	"missing-persons-service/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a conditional save detects a
	// concurrent mutation. The caller should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateInteraction is returned when a family interaction already
	// exists for a report. Interactions are immutable; corrections go
	// through a new report.
	ErrDuplicateInteraction = errors.New("family interaction already recorded")
)

const mysqlDuplicateEntry = 1062

// Service is the record store: cases, sighting reports, the notification
// ledger, and responder locations.
type Service struct {
	db *sql.DB
}

// Connect opens the MySQL connection pool.
func Connect(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	return db, nil
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() error {
	return s.db.Close()
}

// --- Cases ---

func (s *Service) CreateCase(ctx context.Context, c *models.Case) error {
	_, err := s.db.ExecContext(ctx, `INSERT
		INTO cases (id, reporter_id, reporter_contact, person_name, photo_url,
			last_seen_latitude, last_seen_longitude, last_seen_description, status, assigned_responder_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))`,
		c.ID, c.ReporterID, c.ReporterContact, c.PersonName, c.PhotoURL,
		c.LastSeenLatitude, c.LastSeenLongitude, c.LastSeenDescription, c.Status, c.AssignedResponderID)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (s *Service) GetCase(ctx context.Context, id string) (*models.Case, error) {
	var c models.Case
	var responderID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, reporter_id, reporter_contact, person_name, photo_url,
			last_seen_latitude, last_seen_longitude, last_seen_description, status, assigned_responder_id, created_at
		FROM cases WHERE id = ?`, id).Scan(
		&c.ID, &c.ReporterID, &c.ReporterContact, &c.PersonName, &c.PhotoURL,
		&c.LastSeenLatitude, &c.LastSeenLongitude, &c.LastSeenDescription, &c.Status, &responderID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s: %w", id, err)
	}
	if responderID.Valid {
		c.AssignedResponderID = responderID.String
	}
	return &c, nil
}

// AssignResponder records the case assignment. Unless reassign is set, an
// already-assigned case is left untouched so a case never holds more than
// one active assignment.
func (s *Service) AssignResponder(ctx context.Context, caseID, responderID string, reassign bool) error {
	query := `UPDATE cases SET assigned_responder_id = ? WHERE id = ? AND assigned_responder_id IS NULL`
	if reassign {
		query = `UPDATE cases SET assigned_responder_id = ? WHERE id = ?`
	}
	result, err := s.db.ExecContext(ctx, query, responderID, caseID)
	if err != nil {
		return fmt.Errorf("failed to assign responder to case %s: %w", caseID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 && !reassign {
		log.Infof("Case %s already assigned, keeping existing responder", caseID)
	}
	return nil
}

func (s *Service) UpdateCaseStatus(ctx context.Context, caseID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cases SET status = ? WHERE id = ?`, status, caseID)
	if err != nil {
		return fmt.Errorf("failed to update case %s status: %w", caseID, err)
	}
	return nil
}

// ListUnassignedCases feeds the assignment sweep.
func (s *Service) ListUnassignedCases(ctx context.Context) ([]models.Case, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, reporter_id, last_seen_latitude, last_seen_longitude
		FROM cases WHERE assigned_responder_id IS NULL AND status != ?`, models.CaseStatusFound)
	if err != nil {
		return nil, fmt.Errorf("failed to query unassigned cases: %w", err)
	}
	defer rows.Close()

	var cases []models.Case
	for rows.Next() {
		var c models.Case
		if err := rows.Scan(&c.ID, &c.ReporterID, &c.LastSeenLatitude, &c.LastSeenLongitude); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// --- Sighting reports ---

func (s *Service) CreateReport(ctx context.Context, r *models.SightingReport) error {
	_, err := s.db.ExecContext(ctx, `INSERT
		INTO sighting_reports (id, case_id, reporter_id, latitude, longitude, sighted_at, observations,
			photo_url, similarity, annotated_photo_url, status, show_user, sent_verification, verified_by_family, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CaseID, r.ReporterID, r.Latitude, r.Longitude, r.SightedAt, r.Observations,
		r.PhotoURL, r.Similarity, r.AnnotatedPhotoURL, r.Status, r.ShowUser, r.SentVerification, r.VerifiedByFamily, r.Version)
	if err != nil {
		return fmt.Errorf("failed to insert sighting report: %w", err)
	}
	return nil
}

func (s *Service) GetReport(ctx context.Context, id string) (*models.SightingReport, error) {
	var r models.SightingReport
	var sightedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT id, case_id, reporter_id, latitude, longitude, sighted_at, observations,
			photo_url, similarity, annotated_photo_url, status, show_user, sent_verification, verified_by_family, version, created_at
		FROM sighting_reports WHERE id = ?`, id).Scan(
		&r.ID, &r.CaseID, &r.ReporterID, &r.Latitude, &r.Longitude, &sightedAt, &r.Observations,
		&r.PhotoURL, &r.Similarity, &r.AnnotatedPhotoURL, &r.Status, &r.ShowUser, &r.SentVerification, &r.VerifiedByFamily, &r.Version, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	if sightedAt.Valid {
		r.SightedAt = sightedAt.Time
	}
	return &r, nil
}

// SaveReport persists a mutated report guarded by an optimistic version
// check. When the conditional update matches no row the report was changed
// concurrently and ErrVersionConflict is returned; the caller re-reads and
// re-evaluates.
func (s *Service) SaveReport(ctx context.Context, r *models.SightingReport, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sighting_reports
		SET status = ?, show_user = ?, sent_verification = ?, verified_by_family = ?,
			similarity = ?, annotated_photo_url = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		r.Status, r.ShowUser, r.SentVerification, r.VerifiedByFamily,
		r.Similarity, r.AnnotatedPhotoURL, r.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", r.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for report %s: %w", r.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("report %s at version %d: %w", r.ID, expectedVersion, ErrVersionConflict)
	}
	r.Version = expectedVersion + 1
	return nil
}

func (s *Service) ListReportsByCase(ctx context.Context, caseID string) ([]models.SightingReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, case_id, reporter_id, latitude, longitude, observations,
			status, show_user, verified_by_family, version, created_at
		FROM sighting_reports WHERE case_id = ? ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports for case %s: %w", caseID, err)
	}
	defer rows.Close()

	var reports []models.SightingReport
	for rows.Next() {
		var r models.SightingReport
		if err := rows.Scan(&r.ID, &r.CaseID, &r.ReporterID, &r.Latitude, &r.Longitude, &r.Observations,
			&r.Status, &r.ShowUser, &r.VerifiedByFamily, &r.Version, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- Police actions ---

// AppendPoliceAction is append-only; display readers take the latest row.
func (s *Service) AppendPoliceAction(ctx context.Context, a *models.PoliceAction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO police_actions (report_id, police_id, action, remarks)
		VALUES (?, ?, ?, ?)`, a.ReportID, a.PoliceID, a.Action, a.Remarks)
	if err != nil {
		return fmt.Errorf("failed to append police action for report %s: %w", a.ReportID, err)
	}
	return nil
}

func (s *Service) LatestPoliceAction(ctx context.Context, reportID string) (*models.PoliceAction, error) {
	var a models.PoliceAction
	err := s.db.QueryRowContext(ctx, `SELECT id, report_id, police_id, action, remarks, created_at
		FROM police_actions WHERE report_id = ? ORDER BY id DESC LIMIT 1`, reportID).Scan(
		&a.ID, &a.ReportID, &a.PoliceID, &a.Action, &a.Remarks, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("police action for report %s: %w", reportID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest police action for report %s: %w", reportID, err)
	}
	return &a, nil
}

// --- Family interactions ---

// CreateFamilyInteraction records the single, immutable family response.
func (s *Service) CreateFamilyInteraction(ctx context.Context, fi *models.FamilyInteraction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO family_interactions (report_id, response, notes)
		VALUES (?, ?, ?)`, fi.ReportID, fi.Response, fi.Notes)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return fmt.Errorf("report %s: %w", fi.ReportID, ErrDuplicateInteraction)
		}
		return fmt.Errorf("failed to insert family interaction for report %s: %w", fi.ReportID, err)
	}
	return nil
}

// SetVerifiedByFamily flips the verification flag. It only ever moves
// false -> true; a denial leaves the flag alone.
func (s *Service) SetVerifiedByFamily(ctx context.Context, reportID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sighting_reports SET verified_by_family = true WHERE id = ?`, reportID)
	if err != nil {
		return fmt.Errorf("failed to set verified_by_family for report %s: %w", reportID, err)
	}
	return nil
}

// --- Notification ledger ---

// AppendNotification appends a ledger entry for an intent. The unique key
// on (transition_id, recipient_id) makes the append idempotent: replaying
// the same transition returns the already-recorded event.
func (s *Service) AppendNotification(ctx context.Context, intent models.NotificationIntent) (*models.NotificationEvent, error) {
	_, err := s.db.ExecContext(ctx, `INSERT
		INTO notifications (transition_id, recipient_id, subject_id, case_id, event_type, message, new_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		intent.TransitionID, intent.RecipientID, intent.SubjectID, intent.CaseID,
		intent.EventType, intent.Message, intent.NewStatus)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if !errors.As(err, &mysqlErr) || mysqlErr.Number != mysqlDuplicateEntry {
			return nil, fmt.Errorf("failed to append notification: %w", err)
		}
		log.Infof("Notification for transition %s recipient %s already recorded", intent.TransitionID, intent.RecipientID)
	}

	var event models.NotificationEvent
	var readAt sql.NullTime
	var caseID sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT id, transition_id, recipient_id, subject_id, case_id, event_type,
			message, new_status, is_read, read_at, created_at
		FROM notifications WHERE transition_id = ? AND recipient_id = ?`,
		intent.TransitionID, intent.RecipientID).Scan(
		&event.ID, &event.TransitionID, &event.RecipientID, &event.SubjectID, &caseID, &event.EventType,
		&event.Message, &event.NewStatus, &event.Read, &readAt, &event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back notification: %w", err)
	}
	if readAt.Valid {
		event.ReadAt = &readAt.Time
	}
	if caseID.Valid {
		event.CaseID = caseID.String
	}
	return &event, nil
}

// MarkNotificationsRead marks every unread event for the subject/recipient
// pair and returns how many were marked. Marking an already-read event is a
// no-op, so the call is idempotent.
func (s *Service) MarkNotificationsRead(ctx context.Context, subjectID, recipientID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = true, read_at = NOW()
		WHERE subject_id = ? AND recipient_id = ? AND is_read = false`, subjectID, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows, nil
}

// UnreadNotificationCount counts unread events for a recipient, optionally
// scoped to one subject.
func (s *Service) UnreadNotificationCount(ctx context.Context, recipientID, subjectID string) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = false`
	args := []interface{}{recipientID}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *Service) ListNotifications(ctx context.Context, recipientID string) ([]models.NotificationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, transition_id, recipient_id, subject_id, case_id, event_type,
			message, new_status, is_read, read_at, created_at
		FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC, id DESC`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var events []models.NotificationEvent
	for rows.Next() {
		var event models.NotificationEvent
		var readAt sql.NullTime
		var caseID sql.NullString
		if err := rows.Scan(&event.ID, &event.TransitionID, &event.RecipientID, &event.SubjectID, &caseID,
			&event.EventType, &event.Message, &event.NewStatus, &event.Read, &readAt, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if readAt.Valid {
			event.ReadAt = &readAt.Time
		}
		if caseID.Valid {
			event.CaseID = caseID.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// --- Responder locations ---

// UpsertResponderLocation overwrites the single live point per responder.
func (s *Service) UpsertResponderLocation(ctx context.Context, loc *models.ResponderLocation) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO responder_locations (responder_id, latitude, longitude)
		VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE latitude = ?, longitude = ?`,
		loc.ResponderID, loc.Latitude, loc.Longitude, loc.Latitude, loc.Longitude)
	if err != nil {
		return fmt.Errorf("failed to upsert responder location for %s: %w", loc.ResponderID, err)
	}
	return nil
}

func (s *Service) ListResponderLocations(ctx context.Context) ([]models.ResponderLocation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT responder_id, latitude, longitude, updated_at FROM responder_locations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query responder locations: %w", err)
	}
	defer rows.Close()

	var locations []models.ResponderLocation
	for rows.Next() {
		var loc models.ResponderLocation
		if err := rows.Scan(&loc.ResponderID, &loc.Latitude, &loc.Longitude, &loc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan responder location: %w", err)
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}
