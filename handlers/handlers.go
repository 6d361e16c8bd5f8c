package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"missing-persons-service/database"
	"missing-persons-service/lifecycle"
	"missing-persons-service/locator"
	"missing-persons-service/models"
	"missing-persons-service/services"
)

type CaseHandler struct {
	lifecycleService *services.LifecycleService
}

func NewCaseHandler(lifecycleService *services.LifecycleService) *CaseHandler {
	return &CaseHandler{
		lifecycleService: lifecycleService,
	}
}

// OpenCase files a new missing-person case.
func (h *CaseHandler) OpenCase(c *gin.Context) {
	args := &models.OpenCaseRequest{}
	if err := c.ShouldBindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.lifecycleService.OpenCase(c.Request.Context(), c.GetString("user_id"), args)
	if err != nil {
		log.Errorf("Error opening case: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open case"})
		return
	}

	c.JSON(http.StatusCreated, created)
}

// GetCase returns one case.
func (h *CaseHandler) GetCase(c *gin.Context) {
	found, err := h.lifecycleService.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to get case")
		return
	}
	c.JSON(http.StatusOK, found)
}

// ListCaseReports returns every sighting report filed against a case.
func (h *CaseHandler) ListCaseReports(c *gin.Context) {
	reports, err := h.lifecycleService.ListReportsByCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to list reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// SubmitReport files a citizen sighting report.
func (h *CaseHandler) SubmitReport(c *gin.Context) {
	args := &models.SubmitReportRequest{}
	if err := c.ShouldBindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.lifecycleService.SubmitReport(c.Request.Context(), c.GetString("user_id"), args)
	if err != nil {
		respondError(c, err, "failed to submit report")
		return
	}

	c.JSON(http.StatusCreated, report)
}

// GetReport returns one sighting report.
func (h *CaseHandler) GetReport(c *gin.Context) {
	report, err := h.lifecycleService.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to get report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// UpdateReportStatus runs an officer decision through the lifecycle.
func (h *CaseHandler) UpdateReportStatus(c *gin.Context) {
	args := &models.TransitionRequest{}
	if err := c.ShouldBindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := models.ParseReportStatus(args.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.lifecycleService.HandleStatusChange(
		c.Request.Context(), c.Param("id"), c.GetString("user_id"), status, args.Remarks)
	if err != nil {
		respondError(c, err, "failed to update report status")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RecordFamilyAction stores the family's confirm/deny for a report.
func (h *CaseHandler) RecordFamilyAction(c *gin.Context) {
	args := &models.FamilyActionRequest{}
	if err := c.ShouldBindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fi, err := h.lifecycleService.RecordFamilyAction(c.Request.Context(), c.Param("id"), args.Action, args.Notes)
	if err != nil {
		respondError(c, err, "failed to record family action")
		return
	}

	c.JSON(http.StatusCreated, fi)
}

// MarkNotificationsRead marks the caller's notifications for one report as
// read and returns how many were marked.
func (h *CaseHandler) MarkNotificationsRead(c *gin.Context) {
	marked, err := h.lifecycleService.MarkReportNotificationsRead(
		c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	if err != nil {
		respondError(c, err, "failed to mark notifications read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// ListNotifications returns the caller's notifications, newest first.
func (h *CaseHandler) ListNotifications(c *gin.Context) {
	events, err := h.lifecycleService.ListNotifications(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err, "failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": events})
}

// UnreadCount returns the caller's unread notification count, optionally
// scoped to one report via ?report_id=.
func (h *CaseHandler) UnreadCount(c *gin.Context) {
	count, err := h.lifecycleService.UnreadCount(
		c.Request.Context(), c.GetString("user_id"), c.Query("report_id"))
	if err != nil {
		respondError(c, err, "failed to count unread notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// UpdateLocation records the calling responder's location ping.
func (h *CaseHandler) UpdateLocation(c *gin.Context) {
	args := &models.UpdateLocationRequest{}
	if err := c.ShouldBindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.lifecycleService.UpdateResponderLocation(c.Request.Context(), c.GetString("user_id"), args); err != nil {
		respondError(c, err, "failed to update location")
		return
	}
	c.Status(http.StatusNoContent)
}

// NearestResponder returns the responder closest to ?lat=&lng=.
func (h *CaseHandler) NearestResponder(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("parsing lat: %v", err)})
		return
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("parsing lng: %v", err)})
		return
	}

	responderID, distanceKm, err := h.lifecycleService.NearestResponder(c.Request.Context(), lat, lng)
	if err != nil {
		if errors.Is(err, locator.ErrNoResponders) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err, "failed to locate responder")
		return
	}

	c.JSON(http.StatusOK, gin.H{"responder_id": responderID, "distance_km": distanceKm})
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, database.ErrVersionConflict),
		errors.Is(err, database.ErrDuplicateInteraction):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidFamilyAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Errorf("%s: %v", fallback, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
