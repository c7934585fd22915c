package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/yourusername/keiba-engine/internal/models"
)

const defaultListLimit = 20

func (s *Server) handleRacesToday(w http.ResponseWriter, r *http.Request) {
	races, err := s.repos.Race.GetByDate(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "race lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, races)
}

func (s *Server) handleRacesUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	races, err := s.repos.Race.GetUpcoming(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "race lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, races)
}

func (s *Server) handleRacesByDate(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("20060102", mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "date must be YYYYMMDD", "")
		return
	}
	races, err := s.repos.Race.GetByDate(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "race lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, races)
}

func (s *Server) handleRaceByID(w http.ResponseWriter, r *http.Request) {
	raceID := mux.Vars(r)["race_id"]
	race, err := s.repos.Race.GetByID(r.Context(), raceID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeRaceNotFound, "race not found", raceID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "race lookup failed", err.Error())
		return
	}
	entries, err := s.repos.Entry.GetByRaceID(r.Context(), raceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "entry lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"race": race, "entries": entries})
}

func (s *Server) handleRaceSearch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("q")
	if name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query parameter q is required", "")
		return
	}
	races, err := s.repos.Race.SearchByName(r.Context(), name, queryInt(r, "limit", defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "race search failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, races)
}

type predictionRequest struct {
	RaceID   string `json:"race_id"`
	IsFinal  bool   `json:"is_final"`
	BiasDate string `json:"bias_date,omitempty"`
}

func (s *Server) handleCreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "malformed request body", err.Error())
		return
	}
	if req.RaceID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "race_id is required", "")
		return
	}

	resp, err := s.svc.GeneratePrediction(r.Context(), req.RaceID, req.IsFinal, req.BiasDate)
	if err != nil {
		writePredictionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["prediction_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "prediction id must be a UUID", "")
		return
	}
	resp, err := s.svc.GetPrediction(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodePredictionNotFound, "prediction not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "prediction lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	raceID := r.URL.Query().Get("race_id")
	if raceID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query parameter race_id is required", "")
		return
	}
	resps, err := s.svc.GetPredictionsByRace(r.Context(), raceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "prediction lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resps)
}

func (s *Server) handleHorseByID(w http.ResponseWriter, r *http.Request) {
	horseID := mux.Vars(r)["horse_id"]
	horse, err := s.repos.Horse.GetByID(r.Context(), horseID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, CodeHorseNotFound, "horse not found", horseID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "horse lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, horse)
}

func (s *Server) handleHorseSearch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("q")
	if name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query parameter q is required", "")
		return
	}
	horses, err := s.repos.Horse.SearchByName(r.Context(), name, queryInt(r, "limit", defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "horse search failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, horses)
}

func (s *Server) handleJockeySearch(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("q")
	if name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query parameter q is required", "")
		return
	}
	jockeys, err := s.repos.Jockey.SearchByName(r.Context(), name, queryInt(r, "limit", defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "jockey search failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jockeys)
}

func (s *Server) handleOdds(w http.ResponseWriter, r *http.Request) {
	raceID := mux.Vars(r)["race_id"]
	ticket := models.TicketType(r.URL.Query().Get("ticket_type"))
	if ticket == "" {
		ticket = models.TicketWin
	}
	if !models.ValidTicketType(ticket) {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown ticket_type", string(ticket))
		return
	}
	lines, err := s.repos.Odds.GetByRace(r.Context(), raceID, ticket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeDatabaseError, "odds lookup failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
