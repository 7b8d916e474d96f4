package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"attic/internal/storage"
)

// IngestRequest is the body of POST /v1/attachments.
type IngestRequest struct {
	Source  string `json:"source"`
	Name    string `json:"name"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Quality *int   `json:"quality,omitempty"`
}

type IngestResponse struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type PathResponse struct {
	Path string `json:"path"`
}

type MoveResponse struct {
	Name    string `json:"name"`
	From    string `json:"from"`
	To      string `json:"to"`
	Warning string `json:"warning,omitempty"`
}

type OrphanEntry struct {
	ID          int64     `json:"id"`
	Tier        string    `json:"tier"`
	Destination string    `json:"destination,omitempty"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Cause       string    `json:"cause"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type OrphanList struct {
	Orphans []OrphanEntry `json:"orphans"`
}

// NewOrphanList converts ledger rows to their wire form.
func NewOrphanList(orphans []storage.Orphan) OrphanList {
	list := OrphanList{Orphans: make([]OrphanEntry, 0, len(orphans))}
	for _, o := range orphans {
		entry := OrphanEntry{
			ID:         o.ID,
			Tier:       o.Tier.String(),
			Name:       o.Name.String(),
			Path:       o.Path,
			Cause:      o.Cause,
			RecordedAt: o.RecordedAt,
		}
		if o.Destination != 0 {
			entry.Destination = o.Destination.String()
		}
		list.Orphans = append(list.Orphans, entry)
	}
	return list
}

type ReconcileResponse struct {
	Removed   int `json:"removed"`
	Released  int `json:"released"`
	Remaining int `json:"remaining"`
}

func NewReconcileResponse(report storage.ReconcileReport) ReconcileResponse {
	return ReconcileResponse{Removed: report.Removed, Released: report.Released, Remaining: report.Remaining}
}

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	Resource string          `json:"resource,omitempty"`
	Failures []FailureDetail `json:"failures,omitempty"`
}

type FailureDetail struct {
	Path string `json:"path"`
	Code string `json:"code"`
}

const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeAccessDenied = "ACCESS_DENIED"
	CodeCancelled    = "REQUEST_CANCELLED"
	CodeInternal     = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeErrorBody(w http.ResponseWriter, status int, detail ErrorDetail) {
	writeJSON(w, status, ErrorBody{Error: detail})
}

// statusFor maps a storage error kind onto an HTTP status.
func statusFor(kind storage.Kind) int {
	switch kind {
	case storage.InvalidParameter:
		return http.StatusBadRequest
	case storage.NotFound:
		return http.StatusNotFound
	case storage.PermissionDenied:
		return http.StatusForbidden
	case storage.AlreadyExists:
		return http.StatusConflict
	case storage.InsufficientStorage:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err for the request r. Storage errors keep their kind
// as the code; the message is the user facing text, never a host path.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeErrorBody(w, http.StatusServiceUnavailable, ErrorDetail{
			Code:     CodeCancelled,
			Message:  "request cancelled before the operation finished",
			Resource: r.URL.Path,
		})
		return
	}

	kind := storage.KindOf(err)
	if kind == storage.KindUnknown {
		slog.Error("Unclassified failure", "path", r.URL.Path, "error", err)
		writeErrorBody(w, http.StatusInternalServerError, ErrorDetail{
			Code:     CodeInternal,
			Message:  "internal error",
			Resource: r.URL.Path,
		})
		return
	}

	detail := ErrorDetail{
		Code:     kind.Code(),
		Message:  storage.UserMessage(err),
		Resource: r.URL.Path,
	}

	var agg *storage.AggregateError
	if errors.As(err, &agg) {
		for _, f := range agg.Failures {
			detail.Failures = append(detail.Failures, FailureDetail{Path: f.Path, Code: f.Err.Kind.Code()})
		}
	}

	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("Storage operation failed", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeErrorBody(w, status, detail)
}
