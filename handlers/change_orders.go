package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/pkg/cache"
	"github.com/buildrite/sitedash/pkg/payflow"
)

// ChangeOrderHandler manages change orders. Pending change orders feed the
// decision queue, so mutations invalidate the dashboard cache.
type ChangeOrderHandler struct {
	db    *gorm.DB
	cache *cache.Cache
}

func NewChangeOrderHandler(db *gorm.DB, c *cache.Cache) *ChangeOrderHandler {
	return &ChangeOrderHandler{db: db, cache: c}
}

func (h *ChangeOrderHandler) invalidateDashboards(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, cache.KeyDecisionQueue); err != nil {
		log.Printf("⚠️ Failed to invalidate dashboard cache: %v", err)
	}
}

type createChangeOrderRequest struct {
	ProjectID          uint    `json:"project_id"`
	ContractorID       uint    `json:"contractor_id"`
	CoNumber           string  `json:"co_number"`
	CostImpact         float64 `json:"cost_impact"`
	ScheduleImpactDays int     `json:"schedule_impact_days"`
	ReasonCategory     string  `json:"reason_category"`
}

func (h *ChangeOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createChangeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ProjectID == 0 || body.ContractorID == 0 || body.CoNumber == "" {
		writeError(w, http.StatusBadRequest, "project_id, contractor_id and co_number are required")
		return
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
	var contractor models.Contractor
	if err := h.db.First(&contractor, body.ContractorID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			handleServiceError(w, &payflow.NotFoundError{Entity: "contractor", ID: body.ContractorID})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to resolve contractor")
		return
	}

	co := models.ChangeOrder{
		ProjectID:          body.ProjectID,
		ContractorID:       body.ContractorID,
		CoNumber:           body.CoNumber,
		CostImpact:         body.CostImpact,
		ScheduleImpactDays: body.ScheduleImpactDays,
		ReasonCategory:     body.ReasonCategory,
		Status:             models.ChangeOrderPending,
	}
	if err := h.db.Create(&co).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create change order")
		return
	}
	h.invalidateDashboards(r.Context())
	log.Printf("✅ Created change order %s for project %d", co.CoNumber, co.ProjectID)
	writeJSON(w, http.StatusCreated, co)
}

func (h *ChangeOrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := h.db.Model(&models.ChangeOrder{}).
		Preload("Contractor").
		Preload("Project")

	if v := r.URL.Query().Get("project_id"); v != "" {
		q = q.Where("project_id = ?", v)
	}
	if v := r.URL.Query().Get("status"); v != "" {
		q = q.Where("status = ?", v)
	}

	var orders []models.ChangeOrder
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch change orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *ChangeOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid change order id")
		return
	}
	var co models.ChangeOrder
	if err := h.db.Preload("Contractor").Preload("Project").First(&co, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			handleServiceError(w, &payflow.NotFoundError{Entity: "change order", ID: id})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch change order")
		return
	}
	writeJSON(w, http.StatusOK, co)
}

// decide moves a pending change order to approved or rejected with a
// conditional update, so two reviewers cannot both win.
func (h *ChangeOrderHandler) decide(w http.ResponseWriter, r *http.Request, status string) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid change order id")
		return
	}
	actor := actorFromRequest(r)
	if !actor.Role.CanReview() {
		handleServiceError(w, &payflow.ForbiddenError{Role: actor.Role, Action: "decide change orders"})
		return
	}

	updates := map[string]interface{}{"status": status}
	if status == models.ChangeOrderApproved {
		now := time.Now()
		updates["approved_at"] = &now
		updates["approved_by"] = actor.Name
	}

	res := h.db.Model(&models.ChangeOrder{}).
		Where("id = ? AND status = ?", id, models.ChangeOrderPending).
		Updates(updates)
	if res.Error != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update change order")
		return
	}
	if res.RowsAffected == 0 {
		var count int64
		h.db.Model(&models.ChangeOrder{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			handleServiceError(w, &payflow.NotFoundError{Entity: "change order", ID: id})
			return
		}
		handleServiceError(w, &payflow.ConflictError{Entity: "change order", ID: id, Expected: models.ChangeOrderPending})
		return
	}

	h.invalidateDashboards(r.Context())

	var co models.ChangeOrder
	if err := h.db.First(&co, id).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch change order")
		return
	}
	writeJSON(w, http.StatusOK, co)
}

func (h *ChangeOrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, models.ChangeOrderApproved)
}

func (h *ChangeOrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, models.ChangeOrderRejected)
}
