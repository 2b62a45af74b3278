package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/pkg/payflow"
)

// DailyLogHandler manages SMS daily-log requests to project managers.
// Sends go through the SMS gateway with retry bookkeeping; a request that
// exhausts its retries is marked failed and escalated to admins.
type DailyLogHandler struct {
	db     *gorm.DB
	sms    payflow.SmsGateway
	notify *NotificationService
}

func NewDailyLogHandler(db *gorm.DB, sms payflow.SmsGateway, notify *NotificationService) *DailyLogHandler {
	return &DailyLogHandler{db: db, sms: sms, notify: notify}
}

type createDailyLogRequest struct {
	ProjectID     uint   `json:"project_id"`
	PmPhoneNumber string `json:"pm_phone_number"`
	RequestDate   string `json:"request_date"` // YYYY-MM-DD
	RequestTime   string `json:"request_time"` // HH:MM, defaults to 16:00
}

func (h *DailyLogHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createDailyLogRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ProjectID == 0 || body.PmPhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "project_id and pm_phone_number are required")
		return
	}

	requestDate := time.Now()
	if body.RequestDate != "" {
		parsed, err := time.Parse("2006-01-02", body.RequestDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "request_date must be YYYY-MM-DD")
			return
		}
		requestDate = parsed
	}

	var project models.Project
	if err := h.db.First(&project, body.ProjectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			handleServiceError(w, &payflow.NotFoundError{Entity: "project", ID: body.ProjectID})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to resolve project")
		return
	}

	req := models.DailyLogRequest{
		ProjectID:     body.ProjectID,
		PmPhoneNumber: body.PmPhoneNumber,
		RequestDate:   requestDate,
		RequestStatus: models.DailyLogPending,
	}
	if body.RequestTime != "" {
		req.RequestTime = body.RequestTime
	}
	if err := h.db.Create(&req).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create daily log request")
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *DailyLogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := h.db.Model(&models.DailyLogRequest{}).Preload("Project")

	if v := r.URL.Query().Get("project_id"); v != "" {
		q = q.Where("project_id = ?", v)
	}
	if v := r.URL.Query().Get("status"); v != "" {
		q = q.Where("request_status = ?", v)
	}

	var reqs []models.DailyLogRequest
	if err := q.Order("request_date DESC, id DESC").Find(&reqs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch daily log requests")
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// SendNow pushes one pending (or previously failed send of a) daily-log
// request through the SMS gateway immediately. A delivery failure bumps
// the retry count; once MaxRetries is exhausted the request is marked
// failed and admins are notified.
func (h *DailyLogHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid daily log request id")
		return
	}
	if h.sms == nil {
		writeError(w, http.StatusServiceUnavailable, "SMS gateway is not configured")
		return
	}

	var req models.DailyLogRequest
	if err := h.db.Preload("Project").First(&req, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			handleServiceError(w, &payflow.NotFoundError{Entity: "daily log request", ID: id})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch daily log request")
		return
	}
	if req.RequestStatus == models.DailyLogReceived {
		handleServiceError(w, &payflow.ValidationError{
			Entity: "daily log request",
			ID:     id,
			Reason: "log already received",
		})
		return
	}
	if req.RequestStatus == models.DailyLogFailed && req.RetryCount >= req.MaxRetries {
		handleServiceError(w, &payflow.ValidationError{
			Entity: "daily log request",
			ID:     id,
			Reason: "retries exhausted",
		})
		return
	}

	projectName := ""
	if req.Project != nil {
		projectName = req.Project.Name
	}
	msg := fmt.Sprintf("Daily log for %s (%s): reply with crew count, work completed and any issues.",
		projectName, req.RequestDate.Format("Jan 2"))

	_, sendErr := h.sms.Send(r.Context(), req.PmPhoneNumber, msg)
	if sendErr != nil {
		req.RetryCount++
		req.LastError = sendErr.Error()
		if req.RetryCount >= req.MaxRetries {
			req.RequestStatus = models.DailyLogFailed
		}
		if err := h.db.Save(&req).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to record send failure")
			return
		}
		if req.RequestStatus == models.DailyLogFailed && h.notify != nil {
			h.notify.DailyLogFailed(&req, projectName)
		}
		log.Printf("⚠️ Daily log request %d send failed (attempt %d/%d): %v", req.ID, req.RetryCount, req.MaxRetries, sendErr)
		handleServiceError(w, sendErr)
		return
	}

	now := time.Now()
	req.RequestStatus = models.DailyLogSent
	req.SentAt = &now
	req.LastError = ""
	if err := h.db.Save(&req).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record send")
		return
	}
	log.Printf("✅ Sent daily log request %d to %s", req.ID, req.PmPhoneNumber)
	writeJSON(w, http.StatusOK, req)
}

type markReceivedRequest struct {
	Notes string `json:"notes"`
}

// MarkReceived records the PM's reply against a sent request.
func (h *DailyLogHandler) MarkReceived(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid daily log request id")
		return
	}
	var body markReceivedRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	now := time.Now()
	res := h.db.Model(&models.DailyLogRequest{}).
		Where("id = ? AND request_status = ?", id, models.DailyLogSent).
		Updates(map[string]interface{}{
			"request_status": models.DailyLogReceived,
			"received_at":    &now,
			"received_notes": body.Notes,
		})
	if res.Error != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update daily log request")
		return
	}
	if res.RowsAffected == 0 {
		var count int64
		h.db.Model(&models.DailyLogRequest{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			handleServiceError(w, &payflow.NotFoundError{Entity: "daily log request", ID: id})
			return
		}
		handleServiceError(w, &payflow.ConflictError{Entity: "daily log request", ID: id, Expected: models.DailyLogSent})
		return
	}

	var req models.DailyLogRequest
	if err := h.db.First(&req, id).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch daily log request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}
