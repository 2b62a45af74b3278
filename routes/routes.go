package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/buildrite/sitedash/handlers"
	"github.com/buildrite/sitedash/middleware"
	"github.com/buildrite/sitedash/pkg/cache"
	"github.com/buildrite/sitedash/pkg/payflow"
)

// Deps carries everything the route tree needs. Gateways and cache may be
// nil; the affected endpoints degrade or return 503.
type Deps struct {
	DB          *gorm.DB
	Cache       *cache.Cache
	Sms         payflow.SmsGateway
	Esign       payflow.SignatureGateway
	QueueConfig payflow.DecisionQueueConfig
}

var (
	reviewers = []string{"admin", "pm"}
	adminOnly = []string{"admin"}
)

// RegisterRoutes sets up all application routes
func RegisterRoutes(deps Deps) http.Handler {
	r := mux.NewRouter()

	engine := payflow.NewLifecycleEngine(deps.DB)
	queueSvc := payflow.NewDecisionQueueService(deps.DB, deps.QueueConfig)
	rollupSvc := payflow.NewBudgetRollupService(deps.DB)
	notify := handlers.NewNotificationService(deps.DB)

	authHandler := handlers.NewAuthHandler(deps.DB)
	projectHandler := handlers.NewProjectHandler(deps.DB)
	contractorHandler := handlers.NewContractorHandler(deps.DB)
	paymentHandler := handlers.NewPaymentAppHandler(deps.DB, engine, notify, deps.Esign, deps.Cache)
	queueHandler := handlers.NewDecisionQueueHandler(queueSvc, deps.Cache)
	budgetHandler := handlers.NewBudgetHandler(rollupSvc, deps.Cache)
	changeOrderHandler := handlers.NewChangeOrderHandler(deps.DB, deps.Cache)
	dailyLogHandler := handlers.NewDailyLogHandler(deps.DB, deps.Sms, notify)
	notificationHandler := handlers.NewNotificationHandler(deps.DB)
	reportHandler := handlers.NewReportHandler(rollupSvc)

	// =====================================================
	// Public Routes (no authentication)
	// =====================================================
	r.HandleFunc("/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")

	// =====================================================
	// Protected API Routes (require JWT authentication)
	// =====================================================
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.JWTMiddleware)

	registerProjectRoutes(api, projectHandler, budgetHandler)
	registerContractorRoutes(api, contractorHandler)
	registerPaymentRoutes(api, paymentHandler)
	registerDashboardRoutes(api, queueHandler, budgetHandler, reportHandler)
	registerChangeOrderRoutes(api, changeOrderHandler)
	registerDailyLogRoutes(api, dailyLogHandler)

	api.HandleFunc("/notifications", notificationHandler.List).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", notificationHandler.MarkRead).Methods("POST")

	return r
}

func requireRoles(roles []string, h http.HandlerFunc) http.Handler {
	return middleware.RequireRole(roles, h)
}

func registerProjectRoutes(api *mux.Router, h *handlers.ProjectHandler, budgets *handlers.BudgetHandler) {
	api.HandleFunc("/projects", h.List).Methods("GET")
	api.Handle("/projects", requireRoles(adminOnly, h.Create)).Methods("POST")
	api.HandleFunc("/projects/{id}", h.Get).Methods("GET")
	api.HandleFunc("/projects/{id}/budget", budgets.ProjectRollup).Methods("GET")
	api.Handle("/projects/{id}/budget/refresh", requireRoles(reviewers, budgets.RefreshProjectCache)).Methods("POST")
}

func registerContractorRoutes(api *mux.Router, h *handlers.ContractorHandler) {
	api.HandleFunc("/contractors", h.List).Methods("GET")
	api.Handle("/contractors", requireRoles(reviewers, h.Create)).Methods("POST")
	api.HandleFunc("/contractors/{id}", h.Get).Methods("GET")
}

func registerPaymentRoutes(api *mux.Router, h *handlers.PaymentAppHandler) {
	api.HandleFunc("/payment-applications", h.List).Methods("GET")
	api.HandleFunc("/payment-applications", h.Create).Methods("POST")

	// Bulk operations come before {id} so mux does not swallow the path.
	// Bulk approval rides on quick-approve, which only admins hold.
	api.Handle("/payment-applications/bulk-approve", requireRoles(adminOnly, h.BulkApprove)).Methods("POST")
	api.Handle("/payment-applications/bulk-delete", requireRoles(reviewers, h.BulkDelete)).Methods("POST")

	api.HandleFunc("/payment-applications/{id}", h.Get).Methods("GET")
	api.Handle("/payment-applications/{id}", requireRoles(reviewers, h.Delete)).Methods("DELETE")

	api.Handle("/payment-applications/{id}/review", requireRoles(reviewers, h.OpenForReview)).Methods("POST")
	api.Handle("/payment-applications/{id}/verify", requireRoles(reviewers, h.CompleteVerification)).Methods("POST")
	api.Handle("/payment-applications/{id}/approve", requireRoles(reviewers, h.Approve)).Methods("POST")
	api.Handle("/payment-applications/{id}/reject", requireRoles(reviewers, h.Reject)).Methods("POST")
	api.HandleFunc("/payment-applications/{id}/resubmit", h.Resubmit).Methods("POST")
	api.Handle("/payment-applications/{id}/quick-approve", requireRoles(adminOnly, h.QuickApprove)).Methods("POST")
	api.Handle("/payment-applications/{id}/check-ready", requireRoles(reviewers, h.MarkCheckReady)).Methods("POST")

	api.Handle("/payment-applications/{id}/progress/{progressId}", requireRoles(reviewers, h.UpdateLineProgress)).Methods("PUT")
	api.HandleFunc("/payment-applications/{id}/progress/{progressId}/photos", h.AddPhotos).Methods("POST")

	api.Handle("/payment-applications/{id}/request-signature", requireRoles(reviewers, h.RequestSignature)).Methods("POST")
}

func registerDashboardRoutes(api *mux.Router, queue *handlers.DecisionQueueHandler, budgets *handlers.BudgetHandler, reports *handlers.ReportHandler) {
	api.HandleFunc("/decision-queue", queue.Get).Methods("GET")
	api.HandleFunc("/budgets/rollup", budgets.PortfolioRollup).Methods("GET")
	api.HandleFunc("/reports/budget/export", reports.ExportBudgetExcel).Methods("GET")
	api.HandleFunc("/reports/budget/export.csv", reports.ExportBudgetCSV).Methods("GET")
}

func registerChangeOrderRoutes(api *mux.Router, h *handlers.ChangeOrderHandler) {
	api.HandleFunc("/change-orders", h.List).Methods("GET")
	api.Handle("/change-orders", requireRoles(reviewers, h.Create)).Methods("POST")
	api.HandleFunc("/change-orders/{id}", h.Get).Methods("GET")
	api.Handle("/change-orders/{id}/approve", requireRoles(reviewers, h.Approve)).Methods("POST")
	api.Handle("/change-orders/{id}/reject", requireRoles(reviewers, h.Reject)).Methods("POST")
}

func registerDailyLogRoutes(api *mux.Router, h *handlers.DailyLogHandler) {
	api.Handle("/daily-logs", requireRoles(reviewers, h.Create)).Methods("POST")
	api.HandleFunc("/daily-logs", h.List).Methods("GET")
	api.Handle("/daily-logs/{id}/send", requireRoles(reviewers, h.SendNow)).Methods("POST")
	api.Handle("/daily-logs/{id}/received", requireRoles(reviewers, h.MarkReceived)).Methods("POST")
}
