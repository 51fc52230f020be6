// Package router parses and validates the query surface of the HTTP API and
// bridges it to the search service.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roamplan/sitecache/internal/core/model"
	"github.com/roamplan/sitecache/internal/core/observability"
)

// SiteSearcher answers validated site queries.
type SiteSearcher interface {
	Search(ctx context.Context, q model.Query) model.QueryResult
}

var validate = validator.New()

// HandleSites parses query params, runs the search and writes the JSON result.
func HandleSites(logger *slog.Logger, s SiteSearcher) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, err := ParseSitesRequest(r)
		if err != nil {
			writeError(sw, http.StatusBadRequest, err.Error())
			observability.ObserveHTTP(r.Method, "/sites", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		res := s.Search(r.Context(), q)
		code := http.StatusOK
		if res.Status == model.StatusError {
			code = statusFor(res.Error)
			logger.Warn("query failed", "code", code, "err", res.Error)
		}
		sw.Header().Set("Content-Type", "application/json; charset=utf-8")
		sw.WriteHeader(code)
		if err := json.NewEncoder(sw).Encode(res); err != nil {
			logger.Warn("encode response", "err", err)
		}
		observability.ObserveHTTP(r.Method, "/sites", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseSitesRequest decodes the /sites query params into a query.
// Either bbox=west,south,east,north or location=<place name> is required.
func ParseSitesRequest(r *http.Request) (model.Query, error) {
	params := r.URL.Query()

	var q model.Query
	rawBBox := strings.TrimSpace(params.Get("bbox"))
	q.Location = strings.TrimSpace(params.Get("location"))
	if rawBBox == "" && q.Location == "" {
		return model.Query{}, errors.New("either bbox or location is required")
	}
	if rawBBox != "" && q.Location != "" {
		// location wins when both are supplied
		rawBBox = ""
	}
	if rawBBox != "" {
		b, err := parseBBox(rawBBox)
		if err != nil {
			return model.Query{}, fmt.Errorf("invalid bbox: %w", err)
		}
		q.Bounds = &b
	}

	if raw := strings.TrimSpace(params.Get("types")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			st := model.SiteType(strings.TrimSpace(t))
			if !model.ValidSiteType(st) {
				return model.Query{}, fmt.Errorf("unknown site type %q", st)
			}
			q.Types = append(q.Types, st)
		}
	}

	if raw := strings.TrimSpace(params.Get("amenities")); raw != "" {
		a, err := parseAmenities(raw)
		if err != nil {
			return model.Query{}, err
		}
		q.Amenities = a
	}

	v, err := parseVehicle(params)
	if err != nil {
		return model.Query{}, err
	}
	q.Vehicle = v

	if raw := strings.TrimSpace(params.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return model.Query{}, fmt.Errorf("invalid limit: %w", err)
		}
		q.Limit = n
	}

	if err := validate.Struct(q); err != nil {
		return model.Query{}, fmt.Errorf("invalid query: %w", err)
	}
	return q, nil
}

func parseBBox(raw string) (model.Bounds, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.Bounds{}, errors.New("expected 4 comma-separated values: west,south,east,north")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Bounds{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		vals[i] = f
	}
	return model.Bounds{West: vals[0], South: vals[1], East: vals[2], North: vals[3]}, nil
}

func parseAmenities(raw string) (model.Amenities, error) {
	var a model.Amenities
	for _, name := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "water":
			a.Water = true
		case "power":
			a.Power = true
		case "sanitation":
			a.Sanitation = true
		case "shower":
			a.Shower = true
		case "toilet":
			a.Toilet = true
		case "wifi":
			a.Wifi = true
		case "waste":
			a.Waste = true
		default:
			return model.Amenities{}, fmt.Errorf("unknown amenity %q", name)
		}
	}
	return a, nil
}

func parseVehicle(params url.Values) (model.VehicleProfile, error) {
	var v model.VehicleProfile
	var err error
	if v.HeightM, err = floatParam(params.Get("vehicle_height")); err != nil {
		return v, fmt.Errorf("invalid vehicle_height: %w", err)
	}
	if v.LengthM, err = floatParam(params.Get("vehicle_length")); err != nil {
		return v, fmt.Errorf("invalid vehicle_length: %w", err)
	}
	if v.WeightT, err = floatParam(params.Get("vehicle_weight")); err != nil {
		return v, fmt.Errorf("invalid vehicle_weight: %w", err)
	}
	v.Motorhome = boolParam(params.Get("motorhome"))
	v.Caravan = boolParam(params.Get("caravan"))
	return v, nil
}

func floatParam(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func boolParam(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(model.QueryResult{Status: model.StatusError, Error: msg})
}

// statusFor maps a service-level failure onto an HTTP code.
func statusFor(msg string) int {
	switch {
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "try again"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
