package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/pkg/payflow"
	"github.com/buildrite/sitedash/utils"
)

// ProjectHandler manages the project master list.
type ProjectHandler struct {
	db *gorm.DB
}

func NewProjectHandler(db *gorm.DB) *ProjectHandler {
	return &ProjectHandler{db: db}
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	q := h.db.Model(&models.Project{})
	if v := r.URL.Query().Get("status"); v != "" {
		q = q.Where("status = ?", v)
	}
	if r.URL.Query().Get("at_risk") == "true" {
		q = q.Where("at_risk = ?", true)
	}

	var projects []models.Project
	if err := q.Order("name").Find(&projects).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch projects")
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid project id")
		return
	}
	var project models.Project
	if err := h.db.First(&project, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			handleServiceError(w, &payflow.NotFoundError{Entity: "project", ID: id})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type createProjectRequest struct {
	Name         string          `json:"name"`
	ClientName   string          `json:"client_name"`
	Phase        string          `json:"phase"`
	SiteBoundary json.RawMessage `json:"site_boundary,omitempty"`
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(body.SiteBoundary) > 0 {
		if _, err := utils.ParseSiteBoundary(body.SiteBoundary); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	project := models.Project{
		Name:         body.Name,
		ClientName:   body.ClientName,
		Phase:        body.Phase,
		Status:       "active",
		SiteBoundary: datatypes.JSON(body.SiteBoundary),
	}
	if err := h.db.Create(&project).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	log.Printf("✅ Created project %q (%d)", project.Name, project.ID)
	writeJSON(w, http.StatusCreated, project)
}
