package payflow

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
)

// LifecycleEngine owns the payment-application status state machine and
// keeps the derived financial fields consistent. Every transition is a
// conditional update on the expected status, so concurrent writers lose
// with a ConflictError instead of clobbering each other.
type LifecycleEngine struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLifecycleEngine creates a lifecycle engine bound to the given DB handle.
func NewLifecycleEngine(db *gorm.DB) *LifecycleEngine {
	return &LifecycleEngine{db: db, now: time.Now}
}

// LineProgressInput is one line item's submitted completion for a new cycle.
type LineProgressInput struct {
	LineItemID       uint    `json:"line_item_id"`
	SubmittedPercent float64 `json:"submitted_percent"`
}

// CreateInput describes a new pay cycle initiated by a PM or through the
// contractor SMS intake flow.
type CreateInput struct {
	ContractID         uint                `json:"contract_id"`
	PaymentPeriodEnd   *time.Time          `json:"payment_period_end,omitempty"`
	ViaSms             bool                `json:"via_sms"`
	LienWaiverRequired bool                `json:"lien_waiver_required"`
	SmsConversationID  *uint               `json:"sms_conversation_id,omitempty"`
	Lines              []LineProgressInput `json:"lines"`
}

// Create opens a new payment application against a contract. The initial
// status is submitted, or sms_sent when the cycle came in through the SMS
// intake flow. Line-item progress rows are seeded from the contract's line
// items, and current_payment/current_period_value are reconciled with the
// sum of the calculated amounts.
func (e *LifecycleEngine) Create(actor Actor, in CreateInput) (*models.PaymentApplication, error) {
	if actor.Role == RoleViewer {
		return nil, &ForbiddenError{Role: actor.Role, Action: "create payment applications"}
	}

	var contract models.ProjectContractor
	if err := e.db.Preload("LineItems").First(&contract, in.ContractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "contract", ID: in.ContractID}
		}
		return nil, err
	}
	if contract.ContractStatus != "active" {
		return nil, &ValidationError{Entity: "contract", ID: contract.ID, Reason: "contract is not active"}
	}
	if len(in.Lines) == 0 {
		return nil, &ValidationError{Entity: "payment application", Reason: "at least one line item is required"}
	}

	itemsByID := make(map[uint]models.LineItem, len(contract.LineItems))
	for _, item := range contract.LineItems {
		itemsByID[item.ID] = item
	}

	prevPercents, err := e.billedPercentsByLineItem(contract.ID)
	if err != nil {
		return nil, err
	}

	previousPayments, err := e.approvedTotalForContract(contract.ID)
	if err != nil {
		return nil, err
	}

	status := models.PaymentStatusSubmitted
	if in.ViaSms {
		status = models.PaymentStatusSmsSent
	}

	app := &models.PaymentApplication{
		ProjectID:           contract.ProjectID,
		ContractorID:        contract.ContractorID,
		ContractID:          contract.ID,
		Status:              status,
		PreviousPayments:    previousPayments,
		TotalContractAmount: contract.ContractAmount,
		PaymentPeriodEnd:    in.PaymentPeriodEnd,
		LienWaiverRequired:  in.LienWaiverRequired,
		SmsConversationID:   in.SmsConversationID,
	}

	var total float64
	rows := make([]models.LineItemProgress, 0, len(in.Lines))
	for _, line := range in.Lines {
		item, ok := itemsByID[line.LineItemID]
		if !ok {
			return nil, &NotFoundError{Entity: "line item", ID: line.LineItemID}
		}
		if line.SubmittedPercent < 0 || line.SubmittedPercent > 100 {
			return nil, &ValidationError{Entity: "line item", ID: line.LineItemID, Reason: "percent must be between 0 and 100"}
		}
		previous := prevPercents[line.LineItemID]
		if line.SubmittedPercent < previous {
			return nil, &ValidationError{
				Entity: "line item",
				ID:     line.LineItemID,
				Reason: fmt.Sprintf("submitted completion %.1f%% is below previously billed %.1f%%", line.SubmittedPercent, previous),
			}
		}
		thisPeriod := line.SubmittedPercent - previous
		rows = append(rows, models.LineItemProgress{
			LineItemID:        item.ID,
			PreviousPercent:   previous,
			SubmittedPercent:  line.SubmittedPercent,
			ThisPeriodPercent: thisPeriod,
			CalculatedAmount:  round2(thisPeriod / 100 * item.ScheduledValue),
		})
		total += rows[len(rows)-1].CalculatedAmount
	}
	app.CurrentPayment = round2(total)
	app.CurrentPeriodValue = app.CurrentPayment

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(app).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].PaymentAppID = app.ID
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	app.LineProgress = rows

	log.Printf("✅ Created payment application %d on contract %d (status: %s, amount: %.2f)",
		app.ID, contract.ID, app.Status, app.CurrentPayment)
	return app, nil
}

// Get loads a payment application with its line progress and document.
func (e *LifecycleEngine) Get(id uint) (*models.PaymentApplication, error) {
	var app models.PaymentApplication
	err := e.db.Preload("LineProgress").Preload("Document").First(&app, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "payment application", ID: id}
		}
		return nil, err
	}
	return &app, nil
}

// OpenForReview moves a submitted application into needs_review when a PM
// opens it for verification.
func (e *LifecycleEngine) OpenForReview(actor Actor, id uint) (*models.PaymentApplication, error) {
	if !actor.Role.CanReview() {
		return nil, &ForbiddenError{Role: actor.Role, Action: "review payment applications"}
	}
	app, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.PaymentStatusSubmitted {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("cannot open for review from status %q", app.Status),
		}
	}
	if err := e.conditionalTransition(id, models.PaymentStatusSubmitted, map[string]interface{}{
		"status": models.PaymentStatusNeedsReview,
	}); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// CompleteVerification marks the PM's field verification done and records
// any notes. Required before approval.
func (e *LifecycleEngine) CompleteVerification(actor Actor, id uint, notes string) (*models.PaymentApplication, error) {
	if !actor.Role.CanReview() {
		return nil, &ForbiddenError{Role: actor.Role, Action: "verify payment applications"}
	}
	app, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.PaymentStatusNeedsReview {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("cannot complete verification from status %q", app.Status),
		}
	}
	if err := e.conditionalTransition(id, models.PaymentStatusNeedsReview, map[string]interface{}{
		"pm_verification_completed": true,
		"pm_notes":                  notes,
	}); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// Approve finalizes a reviewed application. Requires completed PM
// verification; freezes current_payment by moving to the terminal
// approved status.
func (e *LifecycleEngine) Approve(actor Actor, id uint) (*models.PaymentApplication, error) {
	if !actor.Role.CanReview() {
		return nil, &ForbiddenError{Role: actor.Role, Action: "approve payment applications"}
	}
	app, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.PaymentStatusNeedsReview {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("cannot approve from status %q", app.Status),
		}
	}
	if !app.PmVerificationCompleted {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: "pm verification is not completed",
		}
	}
	if err := e.conditionalTransition(id, models.PaymentStatusNeedsReview, map[string]interface{}{
		"status":      models.PaymentStatusApproved,
		"approved_at": e.now(),
		"approved_by": actor.UserID,
	}); err != nil {
		return nil, err
	}
	log.Printf("✅ Approved payment application %d (%.2f) by %s", id, app.CurrentPayment, actor.Name)
	return e.Get(id)
}

// Reject sends a reviewed application back to the contractor. Rejection
// notes are mandatory so the contractor knows what to fix.
func (e *LifecycleEngine) Reject(actor Actor, id uint, notes string) (*models.PaymentApplication, error) {
	if !actor.Role.CanReview() {
		return nil, &ForbiddenError{Role: actor.Role, Action: "reject payment applications"}
	}
	if strings.TrimSpace(notes) == "" {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: "rejection notes are required",
		}
	}
	app, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.PaymentStatusNeedsReview {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("cannot reject from status %q", app.Status),
		}
	}
	if err := e.conditionalTransition(id, models.PaymentStatusNeedsReview, map[string]interface{}{
		"status":          models.PaymentStatusRejected,
		"rejected_at":     e.now(),
		"rejected_by":     actor.UserID,
		"rejection_notes": notes,
	}); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// Resubmit returns a rejected application to the review pipeline and
// clears the rejection audit fields.
func (e *LifecycleEngine) Resubmit(actor Actor, id uint) (*models.PaymentApplication, error) {
	if actor.Role == RoleViewer {
		return nil, &ForbiddenError{Role: actor.Role, Action: "resubmit payment applications"}
	}
	app, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.PaymentStatusRejected {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("cannot resubmit from status %q", app.Status),
		}
	}
	if err := e.conditionalTransition(id, models.PaymentStatusRejected, map[string]interface{}{
		"status":                    models.PaymentStatusSubmitted,
		"rejected_at":               nil,
		"rejected_by":               "",
		"rejection_notes":           "",
		"pm_verification_completed": false,
	}); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// QuickApprove is the decision-queue shortcut: it approves from any
// non-terminal status, skipping the verification requirement. Admin only.
func (e *LifecycleEngine) QuickApprove(actor Actor, id uint) (*models.PaymentApplication, error) {
	if actor.Role != RoleAdmin {
		return nil, &ForbiddenError{Role: actor.Role, Action: "quick-approve payment applications"}
	}
	app, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if app.Status.Terminal() {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("already finalized (status %q)", app.Status),
		}
	}
	if err := e.conditionalTransition(id, app.Status, map[string]interface{}{
		"status":      models.PaymentStatusApproved,
		"approved_at": e.now(),
		"approved_by": actor.UserID,
	}); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// MarkCheckReady records that a physical check has been cut for an
// approved application. Does not re-open the financial figures.
func (e *LifecycleEngine) MarkCheckReady(actor Actor, id uint) (*models.PaymentApplication, error) {
	if !actor.Role.CanReview() {
		return nil, &ForbiddenError{Role: actor.Role, Action: "mark checks ready"}
	}
	app, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.PaymentStatusApproved {
		return nil, &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("cannot mark check ready from status %q", app.Status),
		}
	}
	if err := e.conditionalTransition(id, models.PaymentStatusApproved, map[string]interface{}{
		"status": models.PaymentStatusCheckReady,
	}); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// Delete soft-deletes a payment application. Finalized applications
// (approved or check_ready) cannot be deleted; their figures feed the
// budget roll-up.
func (e *LifecycleEngine) Delete(actor Actor, id uint) error {
	if !actor.Role.CanReview() {
		return &ForbiddenError{Role: actor.Role, Action: "delete payment applications"}
	}
	app, err := e.Get(id)
	if err != nil {
		return err
	}
	if app.Status.Terminal() {
		return &ValidationError{
			Entity: "payment application",
			ID:     id,
			Reason: fmt.Sprintf("finalized applications cannot be deleted (status %q)", app.Status),
		}
	}
	return e.db.Delete(&models.PaymentApplication{}, id).Error
}

// UpdateLineProgress records the PM-verified completion for one line item
// and recomputes the derived amounts in the same transaction so the
// application totals are never stale.
func (e *LifecycleEngine) UpdateLineProgress(actor Actor, appID, progressID uint, verifiedPercent float64) (*models.PaymentApplication, error) {
	if !actor.Role.CanReview() {
		return nil, &ForbiddenError{Role: actor.Role, Action: "verify line-item progress"}
	}
	if verifiedPercent < 0 || verifiedPercent > 100 {
		return nil, &ValidationError{
			Entity: "line item progress",
			ID:     progressID,
			Reason: "percent must be between 0 and 100",
		}
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		var app models.PaymentApplication
		if err := tx.First(&app, appID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "payment application", ID: appID}
			}
			return err
		}
		if app.Status.Terminal() {
			return &ValidationError{
				Entity: "payment application",
				ID:     appID,
				Reason: fmt.Sprintf("financial figures are frozen (status %q)", app.Status),
			}
		}

		var row models.LineItemProgress
		if err := tx.Where("id = ? AND payment_app_id = ?", progressID, appID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "line item progress", ID: progressID}
			}
			return err
		}
		if verifiedPercent < row.PreviousPercent {
			return &ValidationError{
				Entity: "line item progress",
				ID:     progressID,
				Reason: fmt.Sprintf("verified completion %.1f%% is below previously billed %.1f%%", verifiedPercent, row.PreviousPercent),
			}
		}

		var item models.LineItem
		if err := tx.First(&item, row.LineItemID).Error; err != nil {
			return err
		}

		row.PmVerifiedPercent = verifiedPercent
		row.ThisPeriodPercent = verifiedPercent - row.PreviousPercent
		row.CalculatedAmount = round2(row.ThisPeriodPercent / 100 * item.ScheduledValue)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		var total float64
		if err := tx.Model(&models.LineItemProgress{}).
			Where("payment_app_id = ?", appID).
			Select("COALESCE(SUM(calculated_amount), 0)").
			Scan(&total).Error; err != nil {
			return err
		}
		return tx.Model(&models.PaymentApplication{}).
			Where("id = ?", appID).
			Updates(map[string]interface{}{
				"current_payment":      round2(total),
				"current_period_value": round2(total),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return e.Get(appID)
}

// AddVerificationPhotos appends photo URLs to a line-item progress row and
// bumps the photo counters. Geofence validation of the photo location
// happens at the intake layer before this is called.
func (e *LifecycleEngine) AddVerificationPhotos(actor Actor, appID, progressID uint, urls []string) (*models.PaymentApplication, error) {
	if actor.Role == RoleViewer {
		return nil, &ForbiddenError{Role: actor.Role, Action: "upload verification photos"}
	}
	if len(urls) == 0 {
		return nil, &ValidationError{Entity: "line item progress", ID: progressID, Reason: "no photo URLs provided"}
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		var row models.LineItemProgress
		if err := tx.Where("id = ? AND payment_app_id = ?", progressID, appID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "line item progress", ID: progressID}
			}
			return err
		}
		row.VerificationPhotoURLs = append(row.VerificationPhotoURLs, urls...)
		row.VerificationPhotosCount = len(row.VerificationPhotoURLs)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		return tx.Model(&models.PaymentApplication{}).
			Where("id = ?", appID).
			Update("photos_uploaded_count", gorm.Expr("photos_uploaded_count + ?", len(urls))).Error
	})
	if err != nil {
		return nil, err
	}
	return e.Get(appID)
}

// BulkResult summarizes a bulk operation. Failures never roll back the
// items that already succeeded.
type BulkResult struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Errors    map[uint]string `json:"errors,omitempty"`
}

// BulkApprove quick-approves each id as an independent transaction and
// reports a partial-success summary. Admin only (enforced per item).
func (e *LifecycleEngine) BulkApprove(actor Actor, ids []uint) *BulkResult {
	res := &BulkResult{Errors: make(map[uint]string)}
	for _, id := range ids {
		if _, err := e.QuickApprove(actor, id); err != nil {
			res.Failed++
			res.Errors[id] = err.Error()
			continue
		}
		res.Succeeded++
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res
}

// BulkDelete deletes each id independently, honoring the single-item
// deletion policy (finalized applications are refused).
func (e *LifecycleEngine) BulkDelete(actor Actor, ids []uint) *BulkResult {
	res := &BulkResult{Errors: make(map[uint]string)}
	for _, id := range ids {
		if err := e.Delete(actor, id); err != nil {
			res.Failed++
			res.Errors[id] = err.Error()
			continue
		}
		res.Succeeded++
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res
}

// conditionalTransition applies updates only while the application still
// has the expected status. Zero rows affected on an existing row means
// another writer moved it first.
func (e *LifecycleEngine) conditionalTransition(id uint, expected models.PaymentAppStatus, updates map[string]interface{}) error {
	res := e.db.Model(&models.PaymentApplication{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := e.db.Model(&models.PaymentApplication{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return &NotFoundError{Entity: "payment application", ID: id}
		}
		return &ConflictError{Entity: "payment application", ID: id, Expected: string(expected)}
	}
	return nil
}

// billedPercentsByLineItem sums this_period_percent across finalized
// applications on a contract, keyed by line item.
func (e *LifecycleEngine) billedPercentsByLineItem(contractID uint) (map[uint]float64, error) {
	type prevRow struct {
		LineItemID uint
		Total      float64
	}
	var rows []prevRow
	err := e.db.Model(&models.LineItemProgress{}).
		Select("line_item_progresses.line_item_id AS line_item_id, COALESCE(SUM(line_item_progresses.this_period_percent), 0) AS total").
		Joins("JOIN payment_applications ON payment_applications.id = line_item_progresses.payment_app_id").
		Where("payment_applications.contract_id = ? AND payment_applications.status IN ? AND payment_applications.deleted_at IS NULL",
			contractID, []models.PaymentAppStatus{models.PaymentStatusApproved, models.PaymentStatusCheckReady}).
		Group("line_item_progresses.line_item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]float64, len(rows))
	for _, r := range rows {
		out[r.LineItemID] = r.Total
	}
	return out, nil
}

// approvedTotalForContract sums current_period_value over finalized
// applications on a contract.
func (e *LifecycleEngine) approvedTotalForContract(contractID uint) (float64, error) {
	var total float64
	err := e.db.Model(&models.PaymentApplication{}).
		Where("contract_id = ? AND status IN ?", contractID,
			[]models.PaymentAppStatus{models.PaymentStatusApproved, models.PaymentStatusCheckReady}).
		Select("COALESCE(SUM(current_period_value), 0)").
		Scan(&total).Error
	return total, err
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
