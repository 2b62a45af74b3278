package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildrite/sitedash/middleware"
	"github.com/buildrite/sitedash/models"
	"github.com/buildrite/sitedash/pkg/payflow"
	"github.com/buildrite/sitedash/testutil"
)

// Bulk approval rides on quick-approve, which only admins hold, so the
// route guard has to reject a PM before the engine ever sees the ids.
func TestBulkApproveRouteIsAdminOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := RegisterRoutes(Deps{DB: db})

	project := testutil.TestProject(t, db, "Riverside Tower")
	contractor := testutil.TestContractor(t, db, "Hartley Concrete")
	contract := testutil.TestContract(t, db, project.ID, contractor.ID, 120000)
	app := testutil.TestPaymentApp(t, db, contract, models.PaymentStatusSubmitted, 10000)

	body, err := json.Marshal(map[string][]uint{"ids": {app.ID}})
	require.NoError(t, err)

	post := func(role string) *httptest.ResponseRecorder {
		token, err := middleware.GenerateToken("7", role, "Dana Reviewer", "+15550100")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payment-applications/bulk-approve", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := post("pm")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var untouched models.PaymentApplication
	require.NoError(t, db.First(&untouched, app.ID).Error)
	assert.Equal(t, models.PaymentStatusSubmitted, untouched.Status)

	rec = post("admin")
	require.Equal(t, http.StatusOK, rec.Code)

	var result payflow.BulkResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.Succeeded)
	assert.Zero(t, result.Failed)
}
