package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/keiba-engine/internal/config"
	"github.com/yourusername/keiba-engine/internal/ensemble"
	"github.com/yourusername/keiba-engine/internal/features"
	"github.com/yourusername/keiba-engine/internal/metrics"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
	"github.com/yourusername/keiba-engine/internal/repository"
	"github.com/yourusername/keiba-engine/internal/service"
)

const demoRaceID = "2025012506010911"

func testServer(t *testing.T, apiCfg config.APIConfig) *Server {
	t.Helper()

	model := &ensemble.Model{
		ArtifactVersion: ensemble.CurrentArtifactVersion,
		FeatureNames:    features.Names(),
		Families: []ensemble.Family{{
			Strategy: ensemble.GrowHistogram,
			Ranker:   &ensemble.Booster{},
			Win:      &ensemble.Booster{},
			Place:    &ensemble.Booster{},
		}},
		Weights: []float64{1},
		Calibrators: map[ensemble.Task]*ensemble.Calibrator{
			ensemble.TaskWin:   {},
			ensemble.TaskPlace: {},
		},
		HigherIsBetter: true,
		Meta:           ensemble.Metadata{Version: "api_test", Surface: "mixed"},
	}

	modelCfg := config.ModelConfig{Path: t.TempDir()}
	require.NoError(t, ensemble.SaveArtifact(model, modelCfg.ActivePath(modelmanager.SurfaceMixed)))

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	manager := modelmanager.NewManager(modelCfg, log)
	require.NoError(t, manager.Reload())

	repos := repository.NewMockRepositories()
	m := metrics.New()
	svc := service.NewPredictionService(repos, manager, m, log)
	return NewServer(apiCfg, repos, svc, m, log)
}

func defaultAPIConfig() config.APIConfig {
	return config.APIConfig{
		Port:                  8000,
		RateLimitPerSecond:    100,
		RateLimitBurst:        100,
		RequestTimeoutSeconds: 30,
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestCreatePredictionEndpoint(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	rec := do(t, h, http.MethodPost, "/predictions/", `{"race_id":"`+demoRaceID+`","is_final":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		RaceID string `json:"race_id"`
		Horses []struct {
			Rank           int     `json:"rank"`
			WinProbability float64 `json:"win_probability"`
		} `json:"horses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, demoRaceID, resp.RaceID)
	assert.GreaterOrEqual(t, len(resp.Horses), 5)
}

func TestCreatePredictionUnknownRace(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	rec := do(t, h, http.MethodPost, "/predictions/", `{"race_id":"1999010106010101"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeRaceNotFound, decodeErrorCode(t, rec))
}

func TestCreatePredictionBadBody(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	rec := do(t, h, http.MethodPost, "/predictions/", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeErrorCode(t, rec))

	rec = do(t, h, http.MethodPost, "/predictions/", `{"is_final":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeErrorCode(t, rec))
}

func TestGetPredictionInvalidID(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/predictions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeErrorCode(t, rec))
}

func TestRaceByIDNotFound(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/races/1999010106010101", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeRaceNotFound, decodeErrorCode(t, rec))
}

func TestRacesByDateBadFormat(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/races/date/2025-01-25", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeErrorCode(t, rec))
}

func TestOddsRejectsUnknownTicketType(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/odds/"+demoRaceID+"?ticket_type=exacta_box", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeErrorCode(t, rec))

	rec = do(t, h, http.MethodGet, "/odds/"+demoRaceID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchRequiresQuery(t *testing.T) {
	h := testServer(t, defaultAPIConfig()).Handler()

	for _, path := range []string{"/races/search/name", "/horses/search", "/jockeys/search"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, CodeInvalidRequest, decodeErrorCode(t, rec), path)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cfg := defaultAPIConfig()
	cfg.RateLimitPerSecond = 1
	cfg.RateLimitBurst = 1
	h := testServer(t, cfg).Handler()

	// httptest requests share a RemoteAddr, so the second request in the
	// same instant exhausts the single-token bucket
	first := do(t, h, http.MethodGet, "/races/today", "")
	assert.Equal(t, http.StatusOK, first.Code)

	second := do(t, h, http.MethodGet, "/races/today", "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, CodeRateLimitExceeded, decodeErrorCode(t, second))
}
