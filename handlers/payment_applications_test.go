package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/buildrite/sitedash/middleware"
	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/pkg/payflow"
	"github.com/buildrite/sitedash/testutil"
)

type handlerFixture struct {
	db      *gorm.DB
	handler *PaymentAppHandler
	esign   *fakeSignatureGateway
}

type fakeSignatureGateway struct {
	calls int
	fail  bool
}

func (f *fakeSignatureGateway) RequestSignature(_ context.Context, paymentAppID uint) (*payflow.Envelope, error) {
	f.calls++
	if f.fail {
		return nil, &payflow.GatewayError{Gateway: "esign", Err: fmt.Errorf("provider down")}
	}
	return &payflow.Envelope{
		EnvelopeID:  uuid.New(),
		DocumentURL: fmt.Sprintf("https://esign.example.com/envelopes/%d", paymentAppID),
	}, nil
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	esign := &fakeSignatureGateway{}
	engine := payflow.NewLifecycleEngine(db)
	notify := NewNotificationService(db)
	return &handlerFixture{
		db:      db,
		handler: NewPaymentAppHandler(db, engine, notify, esign, nil),
		esign:   esign,
	}
}

// request builds an authenticated request with mux path variables set.
func request(t *testing.T, method, target string, body interface{}, role string, vars map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	r = middleware.WithClaims(r, &middleware.Claims{UserID: "7", Name: "Dana Reviewer", Role: role})
	if vars != nil {
		r = mux.SetURLVars(r, vars)
	}
	return r
}

func decodeApp(t *testing.T, w *httptest.ResponseRecorder) *models.PaymentApplication {
	t.Helper()
	var app models.PaymentApplication
	require.NoError(t, json.NewDecoder(w.Body).Decode(&app))
	return &app
}

func (f *handlerFixture) seedContract(t *testing.T, amount float64) *models.ProjectContractor {
	t.Helper()
	project := testutil.TestProject(t, f.db, "Harbor Point Tower")
	contractor := testutil.TestContractor(t, f.db, "Volt Electric")
	return testutil.TestContract(t, f.db, project.ID, contractor.ID, amount)
}

func TestPaymentAppHandlerCreate(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)

	in := payflow.CreateInput{
		ContractID: contract.ID,
		Lines: []payflow.LineProgressInput{
			{LineItemID: contract.LineItems[0].ID, SubmittedPercent: 50},
		},
	}
	w := httptest.NewRecorder()
	f.handler.Create(w, request(t, "POST", "/api/v1/payment-applications", in, "contractor", nil))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	app := decodeApp(t, w)
	assert.Equal(t, models.PaymentStatusSubmitted, app.Status)
	assert.InDelta(t, 30000, app.CurrentPeriodValue, 0.001)
}

func TestPaymentAppHandlerCreateRejectsBadBody(t *testing.T) {
	f := newHandlerFixture(t)

	r := request(t, "POST", "/api/v1/payment-applications", nil, "contractor", nil)
	r.Body = http.NoBody
	w := httptest.NewRecorder()
	f.handler.Create(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentAppHandlerApproveFlow(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	app := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusSubmitted, 25000)
	vars := map[string]string{"id": fmt.Sprint(app.ID)}

	w := httptest.NewRecorder()
	f.handler.OpenForReview(w, request(t, "POST", "/x", nil, "pm", vars))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	f.handler.CompleteVerification(w, request(t, "POST", "/x", notesRequest{Notes: "walked the floor"}, "pm", vars))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	f.handler.Approve(w, request(t, "POST", "/x", nil, "pm", vars))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusApproved, decodeApp(t, w).Status)
}

func TestPaymentAppHandlerApproveMapsLifecycleErrors(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	app := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusSubmitted, 25000)
	vars := map[string]string{"id": fmt.Sprint(app.ID)}

	// Wrong status -> 400.
	w := httptest.NewRecorder()
	f.handler.Approve(w, request(t, "POST", "/x", nil, "pm", vars))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Wrong role -> 403.
	w = httptest.NewRecorder()
	f.handler.Approve(w, request(t, "POST", "/x", nil, "viewer", vars))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown id -> 404.
	w = httptest.NewRecorder()
	f.handler.Approve(w, request(t, "POST", "/x", nil, "pm", map[string]string{"id": "9999"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Garbage id -> 400.
	w = httptest.NewRecorder()
	f.handler.Approve(w, request(t, "POST", "/x", nil, "pm", map[string]string{"id": "nope"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentAppHandlerRejectRequiresNotes(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	app := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusNeedsReview, 25000)
	vars := map[string]string{"id": fmt.Sprint(app.ID)}

	w := httptest.NewRecorder()
	f.handler.Reject(w, request(t, "POST", "/x", notesRequest{}, "pm", vars))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	f.handler.Reject(w, request(t, "POST", "/x", notesRequest{Notes: "missing lien waiver"}, "pm", vars))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusRejected, decodeApp(t, w).Status)
}

func TestPaymentAppHandlerDeleteRefusesFinalized(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	app := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusApproved, 25000)

	w := httptest.NewRecorder()
	f.handler.Delete(w, request(t, "DELETE", "/x", nil, "admin", map[string]string{"id": fmt.Sprint(app.ID)}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	f.db.Model(&models.PaymentApplication{}).Where("id = ?", app.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestPaymentAppHandlerListFilters(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusSubmitted, 10000)
	testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusApproved, 20000)

	w := httptest.NewRecorder()
	f.handler.List(w, request(t, "GET", "/api/v1/payment-applications?status=approved", nil, "pm", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var apps []models.PaymentApplication
	require.NoError(t, json.NewDecoder(w.Body).Decode(&apps))
	require.Len(t, apps, 1)
	assert.Equal(t, models.PaymentStatusApproved, apps[0].Status)
}

func TestPaymentAppHandlerBulkApprove(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)

	ready := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusNeedsReview, 10000)
	f.db.Model(ready).Update("pm_verification_completed", true)
	// Rejected is not terminal, so an admin's bulk approval picks it up
	// without a resubmission round-trip.
	rejected := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusRejected, 7500)
	// Already finalized; quick-approve refuses it.
	stuck := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusCheckReady, 5000)

	w := httptest.NewRecorder()
	f.handler.BulkApprove(w, request(t, "POST", "/x", bulkRequest{IDs: []uint{ready.ID, rejected.ID, stuck.ID}}, "admin", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result payflow.BulkResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Errors, stuck.ID)

	var approved models.PaymentApplication
	require.NoError(t, f.db.First(&approved, rejected.ID).Error)
	assert.Equal(t, models.PaymentStatusApproved, approved.Status)
}

func TestPaymentAppHandlerRequestSignature(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	app := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusApproved, 25000)
	vars := map[string]string{"id": fmt.Sprint(app.ID)}

	w := httptest.NewRecorder()
	f.handler.RequestSignature(w, request(t, "POST", "/x", nil, "pm", vars))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, f.esign.calls)

	var doc models.PaymentDocument
	require.NoError(t, f.db.Where("payment_app_id = ?", app.ID).First(&doc).Error)
	assert.Equal(t, "sent", doc.SignatureStatus)

	// A second request returns the existing envelope without calling the
	// provider again.
	w = httptest.NewRecorder()
	f.handler.RequestSignature(w, request(t, "POST", "/x", nil, "pm", vars))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.esign.calls)
}

func TestPaymentAppHandlerRequestSignatureGuards(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	open := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusSubmitted, 25000)

	w := httptest.NewRecorder()
	f.handler.RequestSignature(w, request(t, "POST", "/x", nil, "pm", map[string]string{"id": fmt.Sprint(open.ID)}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.esign.fail = true
	approved := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusApproved, 25000)
	w = httptest.NewRecorder()
	f.handler.RequestSignature(w, request(t, "POST", "/x", nil, "pm", map[string]string{"id": fmt.Sprint(approved.ID)}))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPaymentAppHandlerPhotosHonorSiteBoundary(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	app := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusNeedsReview, 25000)
	progressID := app.LineProgress[0].ID

	boundary := `{"coordinates":[{"lat":30.26,"lng":-97.75},{"lat":30.26,"lng":-97.73},{"lat":30.28,"lng":-97.73},{"lat":30.28,"lng":-97.75}]}`
	require.NoError(t, f.db.Model(&models.Project{}).Where("id = ?", contract.ProjectID).
		Update("site_boundary", boundary).Error)

	vars := map[string]string{"id": fmt.Sprint(app.ID), "progressId": fmt.Sprint(progressID)}
	inside, outside := 30.27, 40.0
	lng := -97.74

	w := httptest.NewRecorder()
	f.handler.AddPhotos(w, request(t, "POST", "/x",
		photoUploadRequest{URLs: []string{"https://cdn.example.com/p1.jpg"}, Lat: &outside, Lng: &lng}, "pm", vars))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	f.handler.AddPhotos(w, request(t, "POST", "/x",
		photoUploadRequest{URLs: []string{"https://cdn.example.com/p1.jpg"}, Lat: &inside, Lng: &lng}, "pm", vars))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decodeApp(t, w).PhotosUploadedCount)
}

func TestPaymentAppHandlerApproveWritesNotification(t *testing.T) {
	f := newHandlerFixture(t)
	contract := f.seedContract(t, 100000)
	app := testutil.TestPaymentApp(t, f.db, contract, models.PaymentStatusNeedsReview, 25000)
	f.db.Model(app).Update("pm_verification_completed", true)

	// A user account sharing the contractor's phone receives the
	// notification.
	var contractor models.Contractor
	require.NoError(t, f.db.First(&contractor, contract.ContractorID).Error)
	user := models.User{
		Name: "Volt Foreman", Email: "foreman@example.com",
		Phone: contractor.Phone, PasswordHash: "x", Role: "contractor", IsActive: true,
	}
	require.NoError(t, f.db.Create(&user).Error)

	w := httptest.NewRecorder()
	f.handler.Approve(w, request(t, "POST", "/x", nil, "pm", map[string]string{"id": fmt.Sprint(app.ID)}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var n models.Notification
	require.NoError(t, f.db.Where("user_id = ?", user.ID).First(&n).Error)
	assert.Equal(t, models.NotificationTypePaymentApproved, n.Type)
	assert.Equal(t, app.ID, n.EntityID)
	assert.Contains(t, n.Body, "Harbor Point Tower")
}
