package handlers

import (
	"log"
	"net/http"

	"github.com/buildrite/sitedash/pkg/cache"
	"github.com/buildrite/sitedash/pkg/payflow"
)

// DecisionQueueHandler serves the aggregated morning decision queue,
// read-through cached so repeated dashboard loads do not hammer the
// database. A cache outage degrades to direct computation.
type DecisionQueueHandler struct {
	svc   *payflow.DecisionQueueService
	cache *cache.Cache
}

func NewDecisionQueueHandler(svc *payflow.DecisionQueueService, c *cache.Cache) *DecisionQueueHandler {
	return &DecisionQueueHandler{svc: svc, cache: c}
}

func (h *DecisionQueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		var cached payflow.DecisionQueue
		hit, err := h.cache.GetJSON(ctx, cache.KeyDecisionQueue, &cached)
		if err != nil {
			log.Printf("⚠️ Decision queue cache read failed: %v", err)
		}
		if hit {
			writeJSON(w, http.StatusOK, &cached)
			return
		}
	}

	queue, err := h.svc.Build()
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(ctx, cache.KeyDecisionQueue, queue); err != nil {
			log.Printf("⚠️ Decision queue cache write failed: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, queue)
}
