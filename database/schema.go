package database

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates the necessary database tables if they don't exist.
func InitSchema(db *sql.DB) error {
	log.Info("Initializing missing-persons-service database schema...")

	casesTableSQL := `
	CREATE TABLE IF NOT EXISTS cases(
		id CHAR(36) NOT NULL,
		reporter_id VARCHAR(64) NOT NULL,
		reporter_contact VARCHAR(255),
		person_name VARCHAR(255) NOT NULL,
		photo_url VARCHAR(512),
		last_seen_latitude DOUBLE NOT NULL DEFAULT 0,
		last_seen_longitude DOUBLE NOT NULL DEFAULT 0,
		last_seen_description TEXT,
		status VARCHAR(32) NOT NULL DEFAULT 'Missing',
		assigned_responder_id VARCHAR(64),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX reporter_id_index (reporter_id),
		INDEX assigned_responder_index (assigned_responder_id)
	)`

	if _, err := db.Exec(casesTableSQL); err != nil {
		return fmt.Errorf("failed to create cases table: %w", err)
	}
	log.Info("Cases table created/verified")

	reportsTableSQL := `
	CREATE TABLE IF NOT EXISTS sighting_reports(
		id CHAR(36) NOT NULL,
		case_id CHAR(36) NOT NULL,
		reporter_id VARCHAR(64) NOT NULL,
		latitude DOUBLE NOT NULL DEFAULT 0,
		longitude DOUBLE NOT NULL DEFAULT 0,
		sighted_at TIMESTAMP NULL,
		observations TEXT,
		photo_url VARCHAR(512),
		similarity DOUBLE,
		annotated_photo_url VARCHAR(512),
		status ENUM('PENDING', 'NOTIFIED_FAMILY', 'SENT_TEAM', 'SOLVED', 'REJECT') NOT NULL DEFAULT 'PENDING',
		show_user BOOL NOT NULL DEFAULT false,
		sent_verification BOOL NOT NULL DEFAULT false,
		verified_by_family BOOL NOT NULL DEFAULT false,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX case_id_index (case_id),
		INDEX status_index (status)
	)`

	if _, err := db.Exec(reportsTableSQL); err != nil {
		return fmt.Errorf("failed to create sighting_reports table: %w", err)
	}
	log.Info("Sighting_reports table created/verified")

	policeActionsTableSQL := `
	CREATE TABLE IF NOT EXISTS police_actions(
		id BIGINT NOT NULL AUTO_INCREMENT,
		report_id CHAR(36) NOT NULL,
		police_id VARCHAR(64) NOT NULL,
		action VARCHAR(32) NOT NULL,
		remarks TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX report_id_index (report_id)
	)`

	if _, err := db.Exec(policeActionsTableSQL); err != nil {
		return fmt.Errorf("failed to create police_actions table: %w", err)
	}
	log.Info("Police_actions table created/verified")

	familyInteractionsTableSQL := `
	CREATE TABLE IF NOT EXISTS family_interactions(
		report_id CHAR(36) NOT NULL,
		response ENUM('CONFIRMED', 'DENIED') NOT NULL,
		notes TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (report_id)
	)`

	if _, err := db.Exec(familyInteractionsTableSQL); err != nil {
		return fmt.Errorf("failed to create family_interactions table: %w", err)
	}
	log.Info("Family_interactions table created/verified")

	// The unique key on (transition_id, recipient_id) makes AppendNotification
	// idempotent: a retried orchestrator run cannot record the same
	// transition twice for the same recipient.
	notificationsTableSQL := `
	CREATE TABLE IF NOT EXISTS notifications(
		id BIGINT NOT NULL AUTO_INCREMENT,
		transition_id CHAR(36) NOT NULL,
		recipient_id VARCHAR(64) NOT NULL,
		subject_id CHAR(36) NOT NULL,
		case_id CHAR(36),
		event_type VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		new_status VARCHAR(32),
		is_read BOOL NOT NULL DEFAULT false,
		read_at TIMESTAMP NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE KEY transition_recipient_unique (transition_id, recipient_id),
		INDEX recipient_read_index (recipient_id, is_read),
		INDEX subject_id_index (subject_id)
	)`

	if _, err := db.Exec(notificationsTableSQL); err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}
	log.Info("Notifications table created/verified")

	responderLocationsTableSQL := `
	CREATE TABLE IF NOT EXISTS responder_locations(
		responder_id VARCHAR(64) NOT NULL,
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (responder_id)
	)`

	if _, err := db.Exec(responderLocationsTableSQL); err != nil {
		return fmt.Errorf("failed to create responder_locations table: %w", err)
	}
	log.Info("Responder_locations table created/verified")

	log.Info("Missing-persons-service database schema initialization completed")
	return nil
}
