package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missing-persons-service/models"
)

func testCase() *models.Case {
	return &models.Case{
		ID:         "case-1",
		ReporterID: "family-1",
		Status:     models.CaseStatusMissing,
	}
}

func testReport(status models.ReportStatus) *models.SightingReport {
	return &models.SightingReport{
		ID:      "report-1",
		CaseID:  "case-1",
		Status:  status,
		Version: 3,
	}
}

func TestApplyTerminalStatesRejectEverything(t *testing.T) {
	targets := []models.ReportStatus{
		models.StatusPending,
		models.StatusNotifiedFamily,
		models.StatusSentTeam,
		models.StatusSolved,
		models.StatusReject,
	}

	for _, terminal := range []models.ReportStatus{models.StatusSolved, models.StatusReject} {
		for _, target := range targets {
			report := testReport(terminal)
			res, err := Apply(report, testCase(), target, "officer-1")

			assert.Nil(t, res, "%s -> %s should not produce a result", terminal, target)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, target)
			assert.Equal(t, terminal, report.Status, "input report must be unchanged")
		}
	}
}

func TestApplyNotifiedFamily(t *testing.T) {
	report := testReport(models.StatusPending)
	res, err := Apply(report, testCase(), models.StatusNotifiedFamily, "officer-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusNotifiedFamily, res.Report.Status)
	assert.True(t, res.Report.ShowUser, "notifying the family makes the report visible to them")
	assert.True(t, res.Report.SentVerification)
	assert.NotEmpty(t, res.TransitionID)

	require.Len(t, res.Intents, 1)
	intent := res.Intents[0]
	assert.Equal(t, "family-1", intent.RecipientID)
	assert.Equal(t, "report-1", intent.SubjectID)
	assert.Equal(t, models.EventPoliceActionUpdate, intent.EventType)
	assert.Equal(t, MsgNotifiedFamily, intent.Message)
	assert.Equal(t, res.TransitionID, intent.TransitionID)

	// Input report stays untouched.
	assert.Equal(t, models.StatusPending, report.Status)
	assert.False(t, report.ShowUser)
}

func TestApplyNotifiedFamilyRejectedWhenAlreadyVerified(t *testing.T) {
	report := testReport(models.StatusPending)
	report.VerifiedByFamily = true

	res, err := Apply(report, testCase(), models.StatusNotifiedFamily, "officer-1")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyNotifiedFamilyOnlyFromPending(t *testing.T) {
	report := testReport(models.StatusSentTeam)
	_, err := Apply(report, testCase(), models.StatusNotifiedFamily, "officer-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplySentTeam(t *testing.T) {
	for _, from := range []models.ReportStatus{models.StatusPending, models.StatusNotifiedFamily} {
		t.Run(string(from), func(t *testing.T) {
			report := testReport(from)
			report.ShowUser = true

			res, err := Apply(report, testCase(), models.StatusSentTeam, "officer-1")
			require.NoError(t, err)

			assert.Equal(t, models.StatusSentTeam, res.Report.Status)
			assert.Equal(t, models.CaseStatusInvestigating, res.CaseStatus)
			require.Len(t, res.Intents, 1)
			assert.Contains(t, res.Intents[0].Message, "investigation")
		})
	}
}

func TestApplySentTeamHiddenReportStaysQuiet(t *testing.T) {
	report := testReport(models.StatusPending)
	report.ShowUser = false

	res, err := Apply(report, testCase(), models.StatusSentTeam, "officer-1")
	require.NoError(t, err)
	assert.Empty(t, res.Intents, "family is not told about reports they cannot see")
}

func TestApplySameStateIsNoOp(t *testing.T) {
	for _, status := range []models.ReportStatus{
		models.StatusPending,
		models.StatusNotifiedFamily,
		models.StatusSentTeam,
	} {
		report := testReport(status)
		res, err := Apply(report, testCase(), status, "officer-1")
		require.NoError(t, err, "%s -> %s must not be an error", status, status)

		assert.True(t, res.NoOp)
		assert.Empty(t, res.Intents)
		assert.Same(t, report, res.Report)
	}

	// Re-requesting NOTIFIED_FAMILY on an already-verified report is still a
	// quiet no-op, not a duplicate family notification and not an error.
	verified := testReport(models.StatusNotifiedFamily)
	verified.VerifiedByFamily = true
	res, err := Apply(verified, testCase(), models.StatusNotifiedFamily, "officer-1")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Empty(t, res.Intents)
}

func TestApplySolvedAlwaysNotifiesFamily(t *testing.T) {
	for _, from := range []models.ReportStatus{
		models.StatusPending,
		models.StatusNotifiedFamily,
		models.StatusSentTeam,
	} {
		report := testReport(from)
		report.ShowUser = false // even hidden reports announce resolution

		res, err := Apply(report, testCase(), models.StatusSolved, "officer-1")
		require.NoError(t, err)

		assert.Equal(t, models.CaseStatusFound, res.CaseStatus)
		require.Len(t, res.Intents, 1)
		assert.Equal(t, MsgSolved, res.Intents[0].Message)
	}
}

func TestApplySolvedUnaffectedByFamilyVerification(t *testing.T) {
	report := testReport(models.StatusNotifiedFamily)
	report.VerifiedByFamily = true

	res, err := Apply(report, testCase(), models.StatusSolved, "officer-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSolved, res.Report.Status)
}

func TestApplyRejectGatedByVisibility(t *testing.T) {
	hidden := testReport(models.StatusPending)
	res, err := Apply(hidden, testCase(), models.StatusReject, "officer-1")
	require.NoError(t, err)
	assert.Empty(t, res.Intents)

	visible := testReport(models.StatusSentTeam)
	visible.ShowUser = true
	res, err = Apply(visible, testCase(), models.StatusReject, "officer-1")
	require.NoError(t, err)
	require.Len(t, res.Intents, 1)
	assert.Equal(t, MsgReject, res.Intents[0].Message)
}

func TestApplyCannotMoveBackToPending(t *testing.T) {
	report := testReport(models.StatusSentTeam)
	_, err := Apply(report, testCase(), models.StatusPending, "officer-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyUnknownStatus(t *testing.T) {
	report := testReport(models.StatusPending)
	_, err := Apply(report, testCase(), models.ReportStatus("LOST"), "officer-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.StatusPending, report.Status)
}

func TestFamilyActionIntent(t *testing.T) {
	report := testReport(models.StatusNotifiedFamily)

	confirmed := FamilyActionIntent(report, "officer-9", models.FamilyActionConfirmed)
	assert.Equal(t, "officer-9", confirmed.RecipientID)
	assert.Equal(t, models.EventFamilyActionUpdate, confirmed.EventType)
	assert.Equal(t, MsgFamilyConfirmed, confirmed.Message)

	denied := FamilyActionIntent(report, "officer-9", models.FamilyActionDenied)
	assert.Equal(t, MsgFamilyDenied, denied.Message)
	assert.NotEqual(t, confirmed.TransitionID, denied.TransitionID)
}
