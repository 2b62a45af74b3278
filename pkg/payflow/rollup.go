package payflow

import (
	"errors"
	"math"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
)

// ProjectRollup is the authoritative budget picture for one project,
// derived from active contracts and approved payments rather than the
// advisory figures stored on the project row.
type ProjectRollup struct {
	ProjectID   uint    `json:"project_id"`
	ProjectName string  `json:"project_name"`
	Budget      float64 `json:"budget"`
	Spent       float64 `json:"spent"`
	Remaining   float64 `json:"remaining"`
	Utilization float64 `json:"utilization"` // percent, one decimal
	OverBudget  bool    `json:"over_budget"`
}

// PortfolioRollup sums the per-project figures so portfolio and project
// level numbers always reconcile.
type PortfolioRollup struct {
	Projects    []ProjectRollup `json:"projects"`
	Budget      float64         `json:"budget"`
	Spent       float64         `json:"spent"`
	Remaining   float64         `json:"remaining"`
	Utilization float64         `json:"utilization"`
}

// BudgetRollupService recomputes budget/spent/remaining/utilization from
// contract and payment records.
type BudgetRollupService struct {
	db *gorm.DB
}

func NewBudgetRollupService(db *gorm.DB) *BudgetRollupService {
	return &BudgetRollupService{db: db}
}

// ForProject computes the roll-up for a single project.
//
// budget    = sum of contract_amount over active contracts
// spent     = sum of current_period_value over approved applications
// remaining = budget - spent, negative when over budget (flagged, not
// clamped, so overruns stay visible)
func (s *BudgetRollupService) ForProject(projectID uint) (*ProjectRollup, error) {
	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "project", ID: projectID}
		}
		return nil, err
	}
	return s.forProject(&project)
}

func (s *BudgetRollupService) forProject(project *models.Project) (*ProjectRollup, error) {
	var budget float64
	err := s.db.Model(&models.ProjectContractor{}).
		Where("project_id = ? AND contract_status = ?", project.ID, "active").
		Select("COALESCE(SUM(contract_amount), 0)").
		Scan(&budget).Error
	if err != nil {
		return nil, &AggregationError{Step: "contract amounts", Err: err}
	}

	var spent float64
	err = s.db.Model(&models.PaymentApplication{}).
		Where("project_id = ? AND status IN ?", project.ID,
			[]models.PaymentAppStatus{models.PaymentStatusApproved, models.PaymentStatusCheckReady}).
		Select("COALESCE(SUM(current_period_value), 0)").
		Scan(&spent).Error
	if err != nil {
		return nil, &AggregationError{Step: "approved payments", Err: err}
	}

	return &ProjectRollup{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Budget:      budget,
		Spent:       spent,
		Remaining:   budget - spent,
		Utilization: utilization(spent, budget),
		OverBudget:  spent > budget,
	}, nil
}

// Portfolio computes the roll-up across all non-deleted projects by
// summing each project's figures, never by re-deriving from a flattened
// query, so the two levels cannot drift apart.
func (s *BudgetRollupService) Portfolio() (*PortfolioRollup, error) {
	var projects []models.Project
	if err := s.db.Order("id").Find(&projects).Error; err != nil {
		return nil, &AggregationError{Step: "projects", Err: err}
	}

	out := &PortfolioRollup{Projects: make([]ProjectRollup, 0, len(projects))}
	for i := range projects {
		r, err := s.forProject(&projects[i])
		if err != nil {
			return nil, err
		}
		out.Projects = append(out.Projects, *r)
		out.Budget += r.Budget
		out.Spent += r.Spent
	}
	out.Remaining = out.Budget - out.Spent
	out.Utilization = utilization(out.Spent, out.Budget)
	return out, nil
}

// RefreshProjectCache writes the recomputed figures back onto the project
// row. The stored budget/spent fields are caches to overwrite, never
// inputs.
func (s *BudgetRollupService) RefreshProjectCache(projectID uint) (*ProjectRollup, error) {
	r, err := s.ForProject(projectID)
	if err != nil {
		return nil, err
	}
	err = s.db.Model(&models.Project{}).
		Where("id = ?", projectID).
		Updates(map[string]interface{}{
			"budget": r.Budget,
			"spent":  r.Spent,
		}).Error
	if err != nil {
		return nil, err
	}
	return r, nil
}

// utilization returns spent/budget as a percentage rounded to one
// decimal. Zero budget yields zero, not NaN; overruns exceed 100 and are
// not clamped.
func utilization(spent, budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	return math.Round(spent/budget*1000) / 10
}
