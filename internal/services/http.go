// Package services exposes the incident, journey and reward engines over
// HTTP, and runs the background health refresh.
package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dpup/prefab/logging"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"

	"github.com/lamain12/Roadpulse-backend/internal/lib/errs"
	"github.com/lamain12/Roadpulse-backend/internal/lib/geo"
)

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnw(ctx, "services: Failed to write response", "error", err)
	}
}

// writeError maps err through its gRPC code onto an HTTP status
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := runtime.HTTPStatusFromCode(status.Code(err))
	if code >= http.StatusInternalServerError {
		logging.Errorw(ctx, "services: Request failed", "error", err, "status", code)
	}
	writeJSON(ctx, w, code, errorResponse{
		Error:  errs.KindOf(err).String(),
		Detail: err.Error(),
	})
}

func decodeJSON(r *http.Request, op string, v any) error {
	if r.Body == nil {
		return errs.Validation(op, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation(op, "malformed request body: %v", err)
	}
	return nil
}

// parsePoint reads a "lat,lng" query value
func parsePoint(op, name, value string) (geo.Point, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return geo.Point{}, errs.Validation(op, "%s must be lat,lng", name)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, errs.Validation(op, "%s: invalid latitude %q", name, parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, errs.Validation(op, "%s: invalid longitude %q", name, parts[1])
	}
	p := geo.Point{Latitude: lat, Longitude: lng}
	if !p.Valid() {
		return geo.Point{}, errs.Validation(op, "%s out of range: %s", name, p)
	}
	return p, nil
}

// requirePoint rejects bodies that omit either coordinate
func requirePoint(op string, lat, lng *float64) (geo.Point, error) {
	if lat == nil || lng == nil {
		return geo.Point{}, errs.Validation(op, "lat and lng are required")
	}
	return geo.Point{Latitude: *lat, Longitude: *lng}, nil
}
