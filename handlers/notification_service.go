package handlers

import (
	"bytes"
	"log"
	"net/http"
	"strconv"
	"text/template"
	"time"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/middleware"
	"github.com/buildrite/sitedash/models"
)

// NotificationService writes in-app notification rows on lifecycle events.
// Failures are logged and never propagated; a missed notification must not
// fail the transition that triggered it.
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

var notificationBodies = template.Must(template.New("notifications").Parse(`
{{define "payment_approved"}}Payment application #{{.AppID}} for {{.ProjectName}} was approved ({{printf "$%.2f" .Amount}} this period).{{end}}
{{define "payment_rejected"}}Payment application #{{.AppID}} for {{.ProjectName}} was rejected: {{.Notes}}{{end}}
{{define "daily_log_failed"}}Daily log request for {{.ProjectName}} failed after {{.Attempts}} attempts.{{end}}
`))

type paymentNotifyData struct {
	AppID       uint
	ProjectName string
	Amount      float64
	Notes       string
}

type dailyLogNotifyData struct {
	ProjectName string
	Attempts    int
}

func (s *NotificationService) render(name string, data interface{}) string {
	var buf bytes.Buffer
	if err := notificationBodies.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("⚠️ Failed to render notification %s: %v", name, err)
		return ""
	}
	return buf.String()
}

func (s *NotificationService) create(n models.Notification) {
	n.Status = models.NotificationStatusSent
	if err := s.db.Create(&n).Error; err != nil {
		log.Printf("⚠️ Failed to write notification for user %d: %v", n.UserID, err)
	}
}

// PaymentApproved notifies the submitting contractor's user account.
func (s *NotificationService) PaymentApproved(userID uint, app *models.PaymentApplication, projectName string) {
	s.create(models.Notification{
		UserID:   userID,
		Type:     models.NotificationTypePaymentApproved,
		Title:    "Payment application approved",
		Body:     s.render("payment_approved", paymentNotifyData{AppID: app.ID, ProjectName: projectName, Amount: app.CurrentPeriodValue}),
		Priority: models.NotificationPriorityNormal,

		EntityType: "payment_application",
		EntityID:   app.ID,
	})
}

// PaymentRejected notifies the submitting contractor's user account with
// the rejection notes.
func (s *NotificationService) PaymentRejected(userID uint, app *models.PaymentApplication, projectName, notes string) {
	s.create(models.Notification{
		UserID:   userID,
		Type:     models.NotificationTypePaymentRejected,
		Title:    "Payment application rejected",
		Body:     s.render("payment_rejected", paymentNotifyData{AppID: app.ID, ProjectName: projectName, Notes: notes}),
		Priority: models.NotificationPriorityHigh,

		EntityType: "payment_application",
		EntityID:   app.ID,
	})
}

// DailyLogFailed notifies admins that a daily-log request exhausted its
// retries.
func (s *NotificationService) DailyLogFailed(req *models.DailyLogRequest, projectName string) {
	var admins []models.User
	if err := s.db.Where("role = ? AND is_active = ?", "admin", true).Find(&admins).Error; err != nil {
		log.Printf("⚠️ Failed to look up admins for daily-log alert: %v", err)
		return
	}
	body := s.render("daily_log_failed", dailyLogNotifyData{ProjectName: projectName, Attempts: req.RetryCount})
	for _, a := range admins {
		s.create(models.Notification{
			UserID:   a.ID,
			Type:     models.NotificationTypeDailyLogFailed,
			Title:    "Daily log request failed",
			Body:     body,
			Priority: models.NotificationPriorityCritical,

			EntityType: "daily_log",
			EntityID:   req.ID,
		})
	}
}

// NotificationHandler serves the in-app notification feed.
type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

func (h *NotificationHandler) currentUserID(r *http.Request) (uint, bool) {
	raw := middleware.GetUserID(r)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// List returns the caller's notifications, unread first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var items []models.Notification
	q := h.db.Where("user_id = ?", userID)
	if r.URL.Query().Get("unread") == "true" {
		q = q.Where("status <> ?", models.NotificationStatusRead)
	}
	if err := q.Order("created_at DESC").Limit(100).Find(&items).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// MarkRead marks one of the caller's notifications as read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	now := time.Now()
	res := h.db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"status": models.NotificationStatusRead, "read_at": &now})
	if res.Error != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update notification")
		return
	}
	if res.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "Notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notification marked read"})
}
