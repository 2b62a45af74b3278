package handlers

import (
	"log"
	"net/http"

	"github.com/buildrite/sitedash/pkg/cache"
	"github.com/buildrite/sitedash/pkg/payflow"
)

// BudgetHandler serves budget roll-ups per project and across the
// portfolio. Figures are always computed from contracts and finalized
// payment applications, never from the stored project columns.
type BudgetHandler struct {
	svc   *payflow.BudgetRollupService
	cache *cache.Cache
}

func NewBudgetHandler(svc *payflow.BudgetRollupService, c *cache.Cache) *BudgetHandler {
	return &BudgetHandler{svc: svc, cache: c}
}

func (h *BudgetHandler) ProjectRollup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid project id")
		return
	}
	rollup, err := h.svc.ForProject(id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

func (h *BudgetHandler) PortfolioRollup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		var cached payflow.PortfolioRollup
		hit, err := h.cache.GetJSON(ctx, cache.KeyPortfolioRollup, &cached)
		if err != nil {
			log.Printf("⚠️ Portfolio roll-up cache read failed: %v", err)
		}
		if hit {
			writeJSON(w, http.StatusOK, &cached)
			return
		}
	}

	rollup, err := h.svc.Portfolio()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(ctx, cache.KeyPortfolioRollup, rollup); err != nil {
			log.Printf("⚠️ Portfolio roll-up cache write failed: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, rollup)
}

// RefreshProjectCache recomputes a project's roll-up and overwrites the
// advisory budget/spent columns stored on the project row.
func (h *BudgetHandler) RefreshProjectCache(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid project id")
		return
	}
	rollup, err := h.svc.RefreshProjectCache(id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	log.Printf("✅ Refreshed stored budget figures for project %d", id)
	writeJSON(w, http.StatusOK, rollup)
}
