package testutil

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
)

// TestProject creates a project row.
func TestProject(t *testing.T, db *gorm.DB, name string) *models.Project {
	t.Helper()

	project := &models.Project{
		Name:       name,
		ClientName: "Harbor Point Development LLC",
		Phase:      "framing",
		Status:     "active",
	}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}
	return project
}

// TestContractor creates an active, compliant contractor.
func TestContractor(t *testing.T, db *gorm.DB, name string) *models.Contractor {
	t.Helper()

	contractor := &models.Contractor{
		Name:             name,
		Trade:            "electrical",
		Phone:            "+15550100200",
		Email:            "dispatch@example.com",
		Status:           "active",
		InsuranceStatus:  models.ComplianceValid,
		LicenseStatus:    models.ComplianceValid,
		PerformanceScore: 4.2,
	}
	if err := db.Create(contractor).Error; err != nil {
		t.Fatalf("Failed to create test contractor: %v", err)
	}
	return contractor
}

// TestContract creates an active contract with two line items splitting
// the contract amount 60/40.
func TestContract(t *testing.T, db *gorm.DB, projectID, contractorID uint, amount float64) *models.ProjectContractor {
	t.Helper()

	contract := &models.ProjectContractor{
		ProjectID:              projectID,
		ContractorID:           contractorID,
		ContractAmount:         amount,
		OriginalContractAmount: amount,
		ContractStatus:         "active",
	}
	if err := db.Create(contract).Error; err != nil {
		t.Fatalf("Failed to create test contract: %v", err)
	}

	items := []models.LineItem{
		{ContractID: contract.ID, Description: "Rough-in", CostCode: "26-0500", ScheduledValue: amount * 0.6},
		{ContractID: contract.ID, Description: "Trim and devices", CostCode: "26-0510", ScheduledValue: amount * 0.4},
	}
	if err := db.Create(&items).Error; err != nil {
		t.Fatalf("Failed to create test line items: %v", err)
	}
	contract.LineItems = items
	return contract
}

// TestPaymentApp creates a payment application in the given status with a
// single progress row covering the first line item of the contract.
func TestPaymentApp(t *testing.T, db *gorm.DB, contract *models.ProjectContractor, status models.PaymentAppStatus, amount float64) *models.PaymentApplication {
	t.Helper()

	app := &models.PaymentApplication{
		ProjectID:           contract.ProjectID,
		ContractorID:        contract.ContractorID,
		ContractID:          contract.ID,
		Status:              status,
		CurrentPayment:      amount,
		CurrentPeriodValue:  amount,
		TotalContractAmount: contract.ContractAmount,
	}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("Failed to create test payment application: %v", err)
	}

	if len(contract.LineItems) > 0 {
		row := &models.LineItemProgress{
			PaymentAppID:      app.ID,
			LineItemID:        contract.LineItems[0].ID,
			SubmittedPercent:  25,
			ThisPeriodPercent: 25,
			CalculatedAmount:  amount,
		}
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("Failed to create test line progress: %v", err)
		}
		app.LineProgress = []models.LineItemProgress{*row}
	}
	return app
}

// BackdateCreatedAt rewinds created_at on a payment application, for
// age-based bucketing tests.
func BackdateCreatedAt(t *testing.T, db *gorm.DB, appID uint, daysAgo int) {
	t.Helper()

	ts := time.Now().AddDate(0, 0, -daysAgo)
	if err := db.Model(&models.PaymentApplication{}).Where("id = ?", appID).
		Update("created_at", ts).Error; err != nil {
		t.Fatalf("Failed to backdate payment application: %v", err)
	}
}

// TestChangeOrder creates a pending change order.
func TestChangeOrder(t *testing.T, db *gorm.DB, projectID, contractorID uint, costImpact float64) *models.ChangeOrder {
	t.Helper()

	co := &models.ChangeOrder{
		ProjectID:      projectID,
		ContractorID:   contractorID,
		CoNumber:       "CO-001",
		CostImpact:     costImpact,
		Status:         models.ChangeOrderPending,
		ReasonCategory: "field_condition",
	}
	if err := db.Create(co).Error; err != nil {
		t.Fatalf("Failed to create test change order: %v", err)
	}
	return co
}

// TestDailyLogRequest creates a pending daily-log SMS request.
func TestDailyLogRequest(t *testing.T, db *gorm.DB, projectID uint) *models.DailyLogRequest {
	t.Helper()

	req := &models.DailyLogRequest{
		ProjectID:     projectID,
		PmPhoneNumber: "+15550100300",
		RequestDate:   time.Now().Truncate(24 * time.Hour),
		RequestTime:   "16:00",
		RequestStatus: models.DailyLogPending,
		MaxRetries:    3,
	}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("Failed to create test daily log request: %v", err)
	}
	return req
}

// TestUser creates a user with the given role.
func TestUser(t *testing.T, db *gorm.DB, role string) *models.User {
	t.Helper()

	user := &models.User{
		Name:         "Test " + role,
		Email:        role + "@example.com",
		Phone:        "+1555010" + role,
		PasswordHash: "x",
		Role:         role,
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}
