// Package handlers carries the response helpers shared by the XRPC
// handler packages.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"Skyview/internal/atproto/pds"
)

// WriteError writes an XRPC-shaped JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   errorType,
		"message": message,
	}); err != nil {
		slog.Error("encoding error response failed", "error", err)
	}
}

// WriteJSON writes a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}

// WriteUpstreamError surfaces a PDS failure to the client. XRPC errors
// pass through with the upstream status and error name intact; anything
// else (dial failures, timeouts) becomes a 502 without leaking detail.
func WriteUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *pds.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		name := apiErr.Name
		if name == "" {
			name = "UpstreamFailure"
		}
		WriteError(w, apiErr.StatusCode, name, apiErr.Message)
		return
	}
	slog.Warn("upstream request failed", "error", err)
	WriteError(w, http.StatusBadGateway, "UpstreamFailure", "Upstream request failed")
}

// Relay streams an upstream XRPC response to the client verbatim,
// keeping the status code and content type. The caller keeps ownership
// of resp.Body.
func Relay(w http.ResponseWriter, resp *http.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Warn("relaying upstream response failed", "error", err)
	}
}
