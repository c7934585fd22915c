package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yourusername/keiba-engine/internal/models"
)

// API error codes returned in the envelope.
const (
	CodeRaceNotFound       = "RACE_NOT_FOUND"
	CodeHorseNotFound      = "HORSE_NOT_FOUND"
	CodePredictionNotFound = "PREDICTION_NOT_FOUND"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodePredictionTimeout  = "PREDICTION_TIMEOUT"
	CodeInvalidRequest     = "INVALID_REQUEST"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}

// writePredictionError maps pipeline failures onto the envelope codes.
func writePredictionError(w http.ResponseWriter, err error) {
	var missing *models.MissingDataError
	var pred *models.PredictionError
	var db *models.DatabaseQueryError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, CodePredictionTimeout, "prediction timed out", "")
	case errors.As(err, &missing):
		writeError(w, http.StatusNotFound, CodeRaceNotFound, missing.Error(), "")
	case errors.Is(err, models.ErrInvalidRaceID):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), "")
	case errors.As(err, &db):
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "database error", db.Op)
	case errors.As(err, &pred):
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, pred.Error(), pred.Stage)
	default:
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, err.Error(), "")
	}
}
