package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/pkg/payflow"
)

// ContractorHandler manages the contractor master list.
type ContractorHandler struct {
	db *gorm.DB
}

func NewContractorHandler(db *gorm.DB) *ContractorHandler {
	return &ContractorHandler{db: db}
}

func (h *ContractorHandler) List(w http.ResponseWriter, r *http.Request) {
	q := h.db.Model(&models.Contractor{})
	if v := r.URL.Query().Get("status"); v != "" {
		q = q.Where("status = ?", v)
	}
	if v := r.URL.Query().Get("trade"); v != "" {
		q = q.Where("trade = ?", v)
	}

	var contractors []models.Contractor
	if err := q.Order("name").Find(&contractors).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch contractors")
		return
	}
	writeJSON(w, http.StatusOK, contractors)
}

func (h *ContractorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid contractor id")
		return
	}
	var contractor models.Contractor
	if err := h.db.Preload("Contracts").First(&contractor, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			handleServiceError(w, &payflow.NotFoundError{Entity: "contractor", ID: id})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch contractor")
		return
	}
	writeJSON(w, http.StatusOK, contractor)
}

type createContractorRequest struct {
	Name  string `json:"name"`
	Trade string `json:"trade"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func (h *ContractorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createContractorRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	contractor := models.Contractor{
		Name:   body.Name,
		Trade:  body.Trade,
		Phone:  body.Phone,
		Email:  body.Email,
		Status: "pending",
	}
	if err := h.db.Create(&contractor).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create contractor")
		return
	}
	log.Printf("✅ Created contractor %q (%d)", contractor.Name, contractor.ID)
	writeJSON(w, http.StatusCreated, contractor)
}
