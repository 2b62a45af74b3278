package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/buildrite/sitedash/middleware"
	"github.com/buildrite/sitedash/pkg/payflow"
)

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error payload with enough context for manual
// investigation.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleServiceError maps the core error taxonomy onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, err error) {
	var validation *payflow.ValidationError
	var notFound *payflow.NotFoundError
	var forbidden *payflow.ForbiddenError
	var conflict *payflow.ConflictError
	var aggregation *payflow.AggregationError
	var gateway *payflow.GatewayError

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &forbidden):
		writeError(w, http.StatusForbidden, forbidden.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &aggregation):
		writeError(w, http.StatusServiceUnavailable, aggregation.Error())
	case errors.As(err, &gateway):
		writeError(w, http.StatusBadGateway, gateway.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actorFromRequest builds the core Actor from the JWT claims stashed by
// the auth middleware.
func actorFromRequest(r *http.Request) payflow.Actor {
	claims := middleware.GetClaims(r)
	if claims == nil {
		return payflow.Actor{Role: payflow.RoleViewer}
	}
	return payflow.Actor{
		UserID: claims.UserID,
		Name:   claims.Name,
		Role:   payflow.Role(claims.Role),
	}
}

// pathID extracts a numeric {id}-style mux variable.
func pathID(r *http.Request, name string) (uint, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
