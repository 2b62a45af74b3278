package payflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/testutil"
)

var (
	admin      = Actor{UserID: "1", Name: "Ada Admin", Role: RoleAdmin}
	pm         = Actor{UserID: "2", Name: "Pat PM", Role: RolePM}
	contractor = Actor{UserID: "3", Name: "Casey Crew", Role: RoleContractor}
	viewer     = Actor{UserID: "4", Name: "Vic Viewer", Role: RoleViewer}
)

func newTestEngine(t *testing.T) (*LifecycleEngine, *gorm.DB, *models.ProjectContractor) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	project := testutil.TestProject(t, db, "Riverside Tower")
	c := testutil.TestContractor(t, db, "Volt Electric")
	contract := testutil.TestContract(t, db, project.ID, c.ID, 100000)
	return NewLifecycleEngine(db), db, contract
}

func TestLifecycleEngine_Create(t *testing.T) {
	engine, _, contract := newTestEngine(t)

	app, err := engine.Create(pm, CreateInput{
		ContractID: contract.ID,
		Lines: []LineProgressInput{
			{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 50}, // 60000 * 50% = 30000
			{LineItemID: contract.LineItems[1].ID, SubmittedPercent: 25}, // 40000 * 25% = 10000
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSubmitted, app.Status)
	assert.Equal(t, 40000.0, app.CurrentPayment)
	assert.Equal(t, 40000.0, app.CurrentPeriodValue)
	assert.Equal(t, 100000.0, app.TotalContractAmount)
	assert.Equal(t, 0.0, app.PreviousPayments)
	assert.Len(t, app.LineProgress, 2)
}

func TestLifecycleEngine_Create_ViaSms(t *testing.T) {
	engine, _, contract := newTestEngine(t)

	app, err := engine.Create(contractor, CreateInput{
		ContractID: contract.ID,
		ViaSms:     true,
		Lines:      []LineProgressInput{{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 10}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSmsSent, app.Status)
}

func TestLifecycleEngine_Create_CarriesPreviousBilling(t *testing.T) {
	engine, _, contract := newTestEngine(t)

	first, err := engine.Create(pm, CreateInput{
		ContractID: contract.ID,
		Lines:      []LineProgressInput{{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 50}},
	})
	require.NoError(t, err)
	_, err = engine.QuickApprove(admin, first.ID)
	require.NoError(t, err)

	second, err := engine.Create(pm, CreateInput{
		ContractID: contract.ID,
		Lines:      []LineProgressInput{{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 80}},
	})
	require.NoError(t, err)
	assert.Equal(t, 30000.0, second.PreviousPayments)
	require.Len(t, second.LineProgress, 1)
	assert.Equal(t, 50.0, second.LineProgress[0].PreviousPercent)
	assert.Equal(t, 30.0, second.LineProgress[0].ThisPeriodPercent)
	assert.Equal(t, 18000.0, second.LineProgress[0].CalculatedAmount)
}

func TestLifecycleEngine_Create_Errors(t *testing.T) {
	engine, _, contract := newTestEngine(t)

	_, err := engine.Create(viewer, CreateInput{ContractID: contract.ID})
	var forbidden *ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	_, err = engine.Create(pm, CreateInput{ContractID: 9999, Lines: []LineProgressInput{{LineItemID: 1, SubmittedPercent: 1}}})
	assert.True(t, IsNotFound(err))

	_, err = engine.Create(pm, CreateInput{
		ContractID: contract.ID,
		Lines:      []LineProgressInput{{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 110}},
	})
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestLifecycleEngine_ApproveRequiresVerification(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	_, err := engine.OpenForReview(pm, app.ID)
	require.NoError(t, err)

	_, err = engine.Approve(pm, app.ID)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "verification")

	_, err = engine.CompleteVerification(pm, app.ID, "walked the floor, counts match")
	require.NoError(t, err)

	approved, err := engine.Approve(pm, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, pm.UserID, approved.ApprovedBy)
}

func TestLifecycleEngine_ApproveWrongStatus(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	_, err := engine.Approve(pm, app.ID)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestLifecycleEngine_ApproveForbiddenForContractor(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	_, err := engine.Approve(contractor, app.ID)
	var forbidden *ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestLifecycleEngine_RejectRequiresNotes(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)
	_, err := engine.OpenForReview(pm, app.ID)
	require.NoError(t, err)

	_, err = engine.Reject(pm, app.ID, "   ")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	rejected, err := engine.Reject(pm, app.ID, "quantities don't match the field log")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRejected, rejected.Status)
	assert.NotNil(t, rejected.RejectedAt)
	assert.Equal(t, pm.UserID, rejected.RejectedBy)
	assert.Equal(t, "quantities don't match the field log", rejected.RejectionNotes)
}

func TestLifecycleEngine_ResubmitClearsRejection(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)
	_, err := engine.OpenForReview(pm, app.ID)
	require.NoError(t, err)
	_, err = engine.Reject(pm, app.ID, "wrong period")
	require.NoError(t, err)

	resubmitted, err := engine.Resubmit(contractor, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSubmitted, resubmitted.Status)
	assert.Nil(t, resubmitted.RejectedAt)
	assert.Empty(t, resubmitted.RejectionNotes)
	assert.False(t, resubmitted.PmVerificationCompleted)
}

func TestLifecycleEngine_QuickApprove(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	_, err := engine.QuickApprove(pm, app.ID)
	var forbidden *ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	approved, err := engine.QuickApprove(admin, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusApproved, approved.Status)

	_, err = engine.QuickApprove(admin, app.ID)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestLifecycleEngine_MarkCheckReady(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	_, err := engine.MarkCheckReady(pm, app.ID)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = engine.QuickApprove(admin, app.ID)
	require.NoError(t, err)

	frozen, err := engine.Get(app.ID)
	require.NoError(t, err)

	ready, err := engine.MarkCheckReady(pm, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCheckReady, ready.Status)
	assert.Equal(t, frozen.CurrentPayment, ready.CurrentPayment)
}

func TestLifecycleEngine_DeleteRefusesFinalized(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)
	_, err := engine.QuickApprove(admin, app.ID)
	require.NoError(t, err)

	err = engine.Delete(admin, app.ID)
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestLifecycleEngine_DeleteOpenApplication(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	require.NoError(t, engine.Delete(pm, app.ID))

	_, err := engine.Get(app.ID)
	assert.True(t, IsNotFound(err))
}

func TestLifecycleEngine_UpdateLineProgressRecomputesTotals(t *testing.T) {
	engine, _, contract := newTestEngine(t)

	app, err := engine.Create(pm, CreateInput{
		ContractID: contract.ID,
		Lines: []LineProgressInput{
			{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 50}, // 30000
			{LineItemID: contract.LineItems[1].ID, SubmittedPercent: 25}, // 10000
		},
	})
	require.NoError(t, err)

	updated, err := engine.UpdateLineProgress(pm, app.ID, app.LineProgress[0].ID, 40)
	require.NoError(t, err)

	// 60000 * 40% + 40000 * 25% = 34000, and the totals must equal the
	// sum of the recomputed line amounts.
	assert.Equal(t, 34000.0, updated.CurrentPayment)
	assert.Equal(t, 34000.0, updated.CurrentPeriodValue)
	var sum float64
	for _, row := range updated.LineProgress {
		sum += row.CalculatedAmount
	}
	assert.Equal(t, updated.CurrentPayment, sum)

	// Idempotent: applying the same percent again changes nothing.
	again, err := engine.UpdateLineProgress(pm, app.ID, app.LineProgress[0].ID, 40)
	require.NoError(t, err)
	assert.Equal(t, updated.CurrentPayment, again.CurrentPayment)
}

func TestLifecycleEngine_UpdateLineProgressValidation(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	_, err := engine.UpdateLineProgress(pm, app.ID, app.LineProgress[0].ID, 140)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = engine.QuickApprove(admin, app.ID)
	require.NoError(t, err)

	_, err = engine.UpdateLineProgress(pm, app.ID, app.LineProgress[0].ID, 60)
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "frozen")
}

func TestLifecycleEngine_AddVerificationPhotos(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	updated, err := engine.AddVerificationPhotos(contractor, app.ID, app.LineProgress[0].ID,
		[]string{"https://cdn.example.com/p1.jpg", "https://cdn.example.com/p2.jpg"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.PhotosUploadedCount)
	require.Len(t, updated.LineProgress, 1)
	assert.Equal(t, 2, updated.LineProgress[0].VerificationPhotosCount)
}

func TestLifecycleEngine_ConflictOnStaleStatus(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	app := newSubmittedApp(t, engine, contract)

	// Simulates a second writer whose expected-status precondition no
	// longer matches: the row is submitted, the transition expects
	// needs_review.
	err := engine.conditionalTransition(app.ID, models.PaymentStatusNeedsReview, map[string]interface{}{
		"status": models.PaymentStatusApproved,
	})
	require.True(t, IsConflict(err))

	err = engine.conditionalTransition(9999, models.PaymentStatusSubmitted, map[string]interface{}{
		"status": models.PaymentStatusNeedsReview,
	})
	assert.True(t, IsNotFound(err))
}

func TestLifecycleEngine_BulkApprovePartialSuccess(t *testing.T) {
	engine, _, contract := newTestEngine(t)

	a := newSubmittedApp(t, engine, contract)
	b := newSubmittedApp(t, engine, contract)
	c := newSubmittedApp(t, engine, contract)

	// Finalize one up front so its quick-approve fails.
	_, err := engine.QuickApprove(admin, b.ID)
	require.NoError(t, err)

	res := engine.BulkApprove(admin, []uint{a.ID, b.ID, c.ID})
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors, b.ID)

	// The successes are not rolled back by the failure.
	for _, id := range []uint{a.ID, c.ID} {
		got, err := engine.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusApproved, got.Status)
	}
}

func TestLifecycleEngine_BulkDeleteHonorsPolicy(t *testing.T) {
	engine, _, contract := newTestEngine(t)

	a := newSubmittedApp(t, engine, contract)
	b := newSubmittedApp(t, engine, contract)
	_, err := engine.QuickApprove(admin, b.ID)
	require.NoError(t, err)

	res := engine.BulkDelete(admin, []uint{a.ID, b.ID})
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	_, err = engine.Get(a.ID)
	assert.True(t, IsNotFound(err))
	kept, err := engine.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusApproved, kept.Status)
}

func TestLifecycleEngine_ApproveUsesInjectedClock(t *testing.T) {
	engine, _, contract := newTestEngine(t)
	fixed := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	app := newSubmittedApp(t, engine, contract)
	_, err := engine.OpenForReview(pm, app.ID)
	require.NoError(t, err)
	_, err = engine.CompleteVerification(pm, app.ID, "ok")
	require.NoError(t, err)

	approved, err := engine.Approve(pm, app.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.ApprovedAt)
	assert.True(t, approved.ApprovedAt.Equal(fixed))
}

func newSubmittedApp(t *testing.T, engine *LifecycleEngine, contract *models.ProjectContractor) *models.PaymentApplication {
	t.Helper()

	app, err := engine.Create(pm, CreateInput{
		ContractID: contract.ID,
		Lines:      []LineProgressInput{{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 25}},
	})
	require.NoError(t, err)
	return app
}
