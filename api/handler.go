package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/haugland/terrainquery/interpolate"
	"github.com/haugland/terrainquery/metrics"
	"github.com/haugland/terrainquery/query"
)

// DefaultMaxLocationsPerRequest mirrors opentopodata's max_n_locations
// default, keeping a single request's work bounded.
const DefaultMaxLocationsPerRequest = 100

// Handler adapts HTTP requests to query.Engine calls. The zero value is
// not usable; construct with NewHandler.
type Handler struct {
	Engine                   *query.Engine
	AccessControlAllowOrigin string
	MaxLocationsPerRequest   int
	Logger                   *slog.Logger
}

// NewHandler builds a Handler over engine with default limits.
func NewHandler(engine *query.Engine) *Handler {
	return &Handler{
		Engine:                 engine,
		MaxLocationsPerRequest: DefaultMaxLocationsPerRequest,
		Logger:                 slog.Default(),
	}
}

// Routes returns an http.Handler exposing the query, health, and (when the
// caller mounts it separately) metrics endpoints. The caller is
// responsible for registering /metrics, since that handler belongs to
// promhttp rather than this package.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/{dataset}", h.handleQuery)
	mux.HandleFunc("POST /v1/{dataset}", h.handleQuery)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	return h.withCORS(mux)
}

func (h *Handler) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AccessControlAllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", h.AccessControlAllowOrigin)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthJSON{OK: true})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	datasetName := r.PathValue("dataset")

	points, kernel, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, datasetName, err)
		return
	}

	metrics.PointsPerRequest.Observe(float64(len(points)))

	start := time.Now()
	resp, err := h.Engine.Query(r.Context(), datasetName, points, kernel)
	metrics.QueryDuration.WithLabelValues(datasetName).Observe(time.Since(start).Seconds())
	if err != nil {
		h.writeError(w, datasetName, err)
		return
	}

	results := make([]resultJSON, len(resp.Results))
	for i, res := range resp.Results {
		results[i] = resultJSON{
			Elevation: res.Elevation,
			Location:  locationJSON{Lat: res.Location.Lat, Lng: res.Location.Lng},
			Error:     res.Error,
		}
	}
	metrics.RequestsTotal.WithLabelValues(datasetName, string(statusOK)).Inc()
	writeJSON(w, http.StatusOK, responseJSON{Status: statusOK, Results: results})
}

// parseRequest extracts points and an optional interpolation override from
// either a GET query string or a POST JSON body.
func (h *Handler) parseRequest(r *http.Request) ([]query.Point, *interpolate.Kernel, error) {
	if r.Method == http.MethodPost {
		return h.parsePostBody(r)
	}
	return h.parseGetParams(r)
}

func (h *Handler) parseGetParams(r *http.Request) ([]query.Point, *interpolate.Kernel, error) {
	points, err := parseLocations(r.URL.Query().Get("locations"), h.MaxLocationsPerRequest)
	if err != nil {
		return nil, nil, err
	}
	kernel, err := parseInterpolationParam(r.URL.Query().Get("interpolation"))
	if err != nil {
		return nil, nil, err
	}
	return points, kernel, nil
}

type postBody struct {
	Locations     []postLocation `json:"locations"`
	Interpolation string         `json:"interpolation"`
}

type postLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *Handler) parsePostBody(r *http.Request) ([]query.Point, *interpolate.Kernel, error) {
	var body postBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, nil, clientError("unable to parse request body as JSON")
	}
	if len(body.Locations) > h.MaxLocationsPerRequest {
		return nil, nil, clientError("too many locations provided in request body")
	}
	points := make([]query.Point, len(body.Locations))
	for i, loc := range body.Locations {
		points[i] = query.Point{Lat: loc.Lat, Lng: loc.Lng}
	}
	kernel, err := parseInterpolationParam(body.Interpolation)
	if err != nil {
		return nil, nil, err
	}
	return points, kernel, nil
}

func parseInterpolationParam(s string) (*interpolate.Kernel, error) {
	if s == "" {
		return nil, nil
	}
	k, err := interpolate.ParseKernel(s)
	if err != nil {
		return nil, clientError(err.Error())
	}
	return &k, nil
}

// writeError maps an error from parsing or the engine into the original
// source's two-tier status vocabulary: a clientError or an unknown dataset
// is the caller's fault (INVALID_REQUEST, 400); anything else is ours
// (SERVER_ERROR, 500).
func (h *Handler) writeError(w http.ResponseWriter, datasetName string, err error) {
	var ce clientError
	switch {
	case errors.As(err, &ce):
		metrics.RequestsTotal.WithLabelValues(datasetName, string(statusInvalid)).Inc()
		writeJSON(w, http.StatusBadRequest, responseJSON{Status: statusInvalid, Error: err.Error()})
	case errors.Is(err, query.ErrDatasetNotFound):
		metrics.RequestsTotal.WithLabelValues(datasetName, string(statusInvalid)).Inc()
		writeJSON(w, http.StatusBadRequest, responseJSON{Status: statusInvalid, Error: err.Error()})
	default:
		h.Logger.Error("query failed", "dataset", datasetName, "error", err)
		metrics.RequestsTotal.WithLabelValues(datasetName, string(statusServer)).Inc()
		writeJSON(w, http.StatusInternalServerError, responseJSON{Status: statusServer, Error: "server error, please retry request"})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
