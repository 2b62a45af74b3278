package payflow

import (
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
)

// QueueItemType distinguishes the two sources feeding the decision queue.
type QueueItemType string

const (
	QueueItemPaymentApplication QueueItemType = "payment_application"
	QueueItemChangeOrder        QueueItemType = "change_order"
)

// QueueItem is one actionable row. It carries everything the dashboard
// needs to render and deep-link without further queries.
type QueueItem struct {
	ID             uint          `json:"id"`
	Type           QueueItemType `json:"type"`
	ContractorName string        `json:"contractor_name"`
	ProjectName    string        `json:"project_name"`
	ProjectID      uint          `json:"project_id"`
	Amount         float64       `json:"amount"`
	Status         string        `json:"status"`
	DaysOld        int           `json:"days_old"`
}

// QueueCounts carries the per-bucket and overall totals that drive the
// dashboard badge.
type QueueCounts struct {
	Urgent      int `json:"urgent"`
	NeedsReview int `json:"needs_review"`
	ReadyToPay  int `json:"ready_to_pay"`
	Total       int `json:"total"`
}

// DecisionQueue is the prioritized work list: stalest items first inside
// each bucket.
type DecisionQueue struct {
	Urgent      []QueueItem `json:"urgent"`
	NeedsReview []QueueItem `json:"needs_review"`
	ReadyToPay  []QueueItem `json:"ready_to_pay"`
	Counts      QueueCounts `json:"counts"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// DecisionQueueConfig holds the tunable bucketing thresholds.
type DecisionQueueConfig struct {
	// UrgentAgeDays is the age at which an unreviewed submission becomes
	// urgent.
	UrgentAgeDays int
	// HighValueChangeOrder is the cost impact at which a pending change
	// order is urgent regardless of age.
	HighValueChangeOrder float64
}

// DefaultDecisionQueueConfig returns the stock thresholds.
func DefaultDecisionQueueConfig() DecisionQueueConfig {
	return DecisionQueueConfig{
		UrgentAgeDays:        3,
		HighValueChangeOrder: 25000,
	}
}

// DecisionQueueService buckets open payment applications and pending
// change orders into urgent / needsReview / readyToPay. The operation is
// read-only and idempotent; the clock is injectable so bucketing is
// deterministic under test.
type DecisionQueueService struct {
	db  *gorm.DB
	cfg DecisionQueueConfig
	now func() time.Time
}

// NewDecisionQueueService creates an aggregator with the given thresholds.
func NewDecisionQueueService(db *gorm.DB, cfg DecisionQueueConfig) *DecisionQueueService {
	if cfg.UrgentAgeDays <= 0 {
		cfg.UrgentAgeDays = 3
	}
	return &DecisionQueueService{db: db, cfg: cfg, now: time.Now}
}

type queueRow struct {
	ID             uint
	Status         string
	Amount         float64
	CreatedAt      time.Time
	ProjectID      uint
	ProjectName    string
	ContractorName string
}

// Build computes the queue. Any underlying fetch failure aborts the whole
// aggregation with an AggregationError; partial results are never
// returned, so the badge count can't silently undercount.
func (s *DecisionQueueService) Build() (*DecisionQueue, error) {
	now := s.now()

	var appRows []queueRow
	err := s.db.Model(&models.PaymentApplication{}).
		Select("payment_applications.id, payment_applications.status, payment_applications.current_payment AS amount, payment_applications.created_at, payment_applications.project_id, projects.name AS project_name, contractors.name AS contractor_name").
		Joins("JOIN projects ON projects.id = payment_applications.project_id").
		Joins("JOIN contractors ON contractors.id = payment_applications.contractor_id").
		Where("payment_applications.status IN ?", []models.PaymentAppStatus{
			models.PaymentStatusSubmitted,
			models.PaymentStatusNeedsReview,
			models.PaymentStatusSmsSent,
		}).
		Order("payment_applications.id").
		Scan(&appRows).Error
	if err != nil {
		return nil, &AggregationError{Step: "payment applications", Err: err}
	}

	var coRows []queueRow
	err = s.db.Model(&models.ChangeOrder{}).
		Select("change_orders.id, change_orders.status, change_orders.cost_impact AS amount, change_orders.created_at, change_orders.project_id, projects.name AS project_name, contractors.name AS contractor_name").
		Joins("JOIN projects ON projects.id = change_orders.project_id").
		Joins("JOIN contractors ON contractors.id = change_orders.contractor_id").
		Where("change_orders.status = ?", models.ChangeOrderPending).
		Order("change_orders.id").
		Scan(&coRows).Error
	if err != nil {
		return nil, &AggregationError{Step: "change orders", Err: err}
	}

	q := &DecisionQueue{
		Urgent:      []QueueItem{},
		NeedsReview: []QueueItem{},
		ReadyToPay:  []QueueItem{},
		GeneratedAt: now,
	}

	for _, r := range appRows {
		item := toQueueItem(r, QueueItemPaymentApplication, now)
		switch {
		case r.Status == string(models.PaymentStatusSubmitted) && item.DaysOld >= s.cfg.UrgentAgeDays:
			q.Urgent = append(q.Urgent, item)
		case r.Status == string(models.PaymentStatusNeedsReview),
			r.Status == string(models.PaymentStatusSubmitted):
			q.NeedsReview = append(q.NeedsReview, item)
		case r.Status == string(models.PaymentStatusSmsSent):
			q.ReadyToPay = append(q.ReadyToPay, item)
		}
	}

	for _, r := range coRows {
		item := toQueueItem(r, QueueItemChangeOrder, now)
		// Urgency requires the cost impact to exceed the threshold, not
		// merely meet it.
		if s.cfg.HighValueChangeOrder > 0 && r.Amount > s.cfg.HighValueChangeOrder {
			q.Urgent = append(q.Urgent, item)
		} else {
			q.NeedsReview = append(q.NeedsReview, item)
		}
	}

	sortByAgeDesc(q.Urgent)
	sortByAgeDesc(q.NeedsReview)
	sortByAgeDesc(q.ReadyToPay)

	q.Counts = QueueCounts{
		Urgent:      len(q.Urgent),
		NeedsReview: len(q.NeedsReview),
		ReadyToPay:  len(q.ReadyToPay),
	}
	q.Counts.Total = q.Counts.Urgent + q.Counts.NeedsReview + q.Counts.ReadyToPay
	return q, nil
}

func toQueueItem(r queueRow, t QueueItemType, now time.Time) QueueItem {
	daysOld := int(now.Sub(r.CreatedAt).Hours() / 24)
	if daysOld < 0 {
		daysOld = 0
	}
	return QueueItem{
		ID:             r.ID,
		Type:           t,
		ContractorName: r.ContractorName,
		ProjectName:    r.ProjectName,
		ProjectID:      r.ProjectID,
		Amount:         r.Amount,
		Status:         r.Status,
		DaysOld:        daysOld,
	}
}

// sortByAgeDesc surfaces the stalest items first. The stable sort keeps
// the id-ordered fetch deterministic for equal ages.
func sortByAgeDesc(items []QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].DaysOld > items[j].DaysOld
	})
}
