package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/pkg/cache"
	"github.com/buildrite/sitedash/pkg/payflow"

	"github.com/buildrite/sitedash/utils"
)

// PaymentAppHandler exposes the payment application lifecycle over HTTP.
// All state transitions go through the lifecycle engine; the handler only
// handles decoding, auth context, caching and notifications.
type PaymentAppHandler struct {
	db     *gorm.DB
	engine *payflow.LifecycleEngine
	notify *NotificationService
	esign  payflow.SignatureGateway
	cache  *cache.Cache
}

func NewPaymentAppHandler(db *gorm.DB, engine *payflow.LifecycleEngine, notify *NotificationService, esign payflow.SignatureGateway, c *cache.Cache) *PaymentAppHandler {
	return &PaymentAppHandler{db: db, engine: engine, notify: notify, esign: esign, cache: c}
}

// invalidateDashboards drops the cached decision queue and roll-up after
// any mutation that changes their inputs. Cache errors are logged only.
func (h *PaymentAppHandler) invalidateDashboards(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, cache.KeyDecisionQueue, cache.KeyPortfolioRollup); err != nil {
		log.Printf("⚠️ Failed to invalidate dashboard cache: %v", err)
	}
}

func (h *PaymentAppHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in payflow.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	app, err := h.engine.Create(actorFromRequest(r), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.invalidateDashboards(r.Context())
	writeJSON(w, http.StatusCreated, app)
}

func (h *PaymentAppHandler) List(w http.ResponseWriter, r *http.Request) {
	q := h.db.Model(&models.PaymentApplication{}).
		Preload("Contractor").
		Preload("Project")

	if v := r.URL.Query().Get("project_id"); v != "" {
		q = q.Where("project_id = ?", v)
	}
	if v := r.URL.Query().Get("contractor_id"); v != "" {
		q = q.Where("contractor_id = ?", v)
	}
	if v := r.URL.Query().Get("status"); v != "" {
		q = q.Where("status = ?", v)
	}

	var apps []models.PaymentApplication
	if err := q.Order("created_at DESC").Find(&apps).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch payment applications")
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *PaymentAppHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	app, err := h.engine.Get(id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// transition runs a simple id-only lifecycle transition and writes the
// refreshed application.
func (h *PaymentAppHandler) transition(w http.ResponseWriter, r *http.Request, fn func(payflow.Actor, uint) (*models.PaymentApplication, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	app, err := fn(actorFromRequest(r), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.invalidateDashboards(r.Context())
	writeJSON(w, http.StatusOK, app)
}

func (h *PaymentAppHandler) OpenForReview(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.OpenForReview)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *PaymentAppHandler) CompleteVerification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	var body notesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	app, err := h.engine.CompleteVerification(actorFromRequest(r), id, body.Notes)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *PaymentAppHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	app, err := h.engine.Approve(actorFromRequest(r), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.invalidateDashboards(r.Context())
	h.notifyContractor(app, "")
	writeJSON(w, http.StatusOK, app)
}

func (h *PaymentAppHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	var body notesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	app, err := h.engine.Reject(actorFromRequest(r), id, body.Notes)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.invalidateDashboards(r.Context())
	h.notifyContractor(app, body.Notes)
	writeJSON(w, http.StatusOK, app)
}

func (h *PaymentAppHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Resubmit)
}

func (h *PaymentAppHandler) QuickApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	app, err := h.engine.QuickApprove(actorFromRequest(r), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.invalidateDashboards(r.Context())
	h.notifyContractor(app, "")
	writeJSON(w, http.StatusOK, app)
}

func (h *PaymentAppHandler) MarkCheckReady(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.MarkCheckReady)
}

func (h *PaymentAppHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	if err := h.engine.Delete(actorFromRequest(r), id); err != nil {
		handleServiceError(w, err)
		return
	}
	h.invalidateDashboards(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment application deleted"})
}

type progressUpdateRequest struct {
	PmVerifiedPercent float64 `json:"pm_verified_percent"`
}

func (h *PaymentAppHandler) UpdateLineProgress(w http.ResponseWriter, r *http.Request) {
	appID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	progressID, err := pathID(r, "progressId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line progress id")
		return
	}
	var body progressUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	app, err := h.engine.UpdateLineProgress(actorFromRequest(r), appID, progressID, body.PmVerifiedPercent)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.invalidateDashboards(r.Context())
	writeJSON(w, http.StatusOK, app)
}

type photoUploadRequest struct {
	URLs []string `json:"urls"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

// AddPhotos attaches verification photo URLs to a line progress row. When
// the project has a site boundary configured and the upload carries GPS
// coordinates, the photos must have been taken inside the boundary.
func (h *PaymentAppHandler) AddPhotos(w http.ResponseWriter, r *http.Request) {
	appID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	progressID, err := pathID(r, "progressId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid line progress id")
		return
	}
	var body photoUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "No photo URLs supplied")
		return
	}

	if body.Lat != nil && body.Lng != nil {
		ok, err := h.insideSiteBoundary(appID, *body.Lat, *body.Lng)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusBadRequest, "Photo location is outside the project site boundary")
			return
		}
	}

	app, err := h.engine.AddVerificationPhotos(actorFromRequest(r), appID, progressID, body.URLs)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// insideSiteBoundary checks a point against the application's project
// boundary. Projects without a configured boundary accept any location.
func (h *PaymentAppHandler) insideSiteBoundary(appID uint, lat, lng float64) (bool, error) {
	var app models.PaymentApplication
	if err := h.db.Preload("Project").First(&app, appID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, &payflow.NotFoundError{Entity: "payment application", ID: appID}
		}
		return false, err
	}
	if app.Project == nil || len(app.Project.SiteBoundary) == 0 {
		return true, nil
	}
	boundary, err := utils.ParseSiteBoundary(app.Project.SiteBoundary)
	if err != nil {
		log.Printf("⚠️ Project %d has an invalid site boundary: %v", app.ProjectID, err)
		return true, nil
	}
	if boundary == nil {
		return true, nil
	}
	return boundary.Contains(lat, lng), nil
}

type bulkRequest struct {
	IDs []uint `json:"ids"`
}

func (h *PaymentAppHandler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "No ids supplied")
		return
	}
	result := h.engine.BulkApprove(actorFromRequest(r), body.IDs)
	h.invalidateDashboards(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (h *PaymentAppHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "No ids supplied")
		return
	}
	result := h.engine.BulkDelete(actorFromRequest(r), body.IDs)
	h.invalidateDashboards(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// RequestSignature generates the pay-app package for an approved
// application and routes it for e-signature. The envelope is recorded as
// the application's payment document; signature completion is tracked
// asynchronously by the provider.
func (h *PaymentAppHandler) RequestSignature(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment application id")
		return
	}
	if h.esign == nil {
		writeError(w, http.StatusServiceUnavailable, "E-signature gateway is not configured")
		return
	}

	app, err := h.engine.Get(id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !app.Status.Terminal() {
		handleServiceError(w, &payflow.ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: "only approved applications can be routed for signature",
		})
		return
	}
	if app.Document != nil {
		writeJSON(w, http.StatusOK, app.Document)
		return
	}

	env, err := h.esign.RequestSignature(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	doc := models.PaymentDocument{
		PaymentAppID:    id,
		EnvelopeID:      env.EnvelopeID,
		DocumentURL:     env.DocumentURL,
		SignatureStatus: "sent",
	}
	if err := h.db.Create(&doc).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record payment document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// notifyContractor writes an in-app notification for the contractor's
// user account, matched by phone. Contractors without accounts are
// silently skipped.
func (h *PaymentAppHandler) notifyContractor(app *models.PaymentApplication, rejectionNotes string) {
	if h.notify == nil {
		return
	}

	var contractor models.Contractor
	if err := h.db.First(&contractor, app.ContractorID).Error; err != nil {
		log.Printf("⚠️ Failed to load contractor %d for notification: %v", app.ContractorID, err)
		return
	}
	var user models.User
	if err := h.db.Where("phone = ? AND is_active = ?", contractor.Phone, true).First(&user).Error; err != nil {
		return
	}

	var project models.Project
	projectName := ""
	if err := h.db.First(&project, app.ProjectID).Error; err == nil {
		projectName = project.Name
	}

	if app.Status == models.PaymentStatusRejected {
		h.notify.PaymentRejected(user.ID, app, projectName, rejectionNotes)
	} else {
		h.notify.PaymentApproved(user.ID, app, projectName)
	}
}
