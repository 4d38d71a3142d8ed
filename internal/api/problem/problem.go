// Package problem writes RFC 7807 problem documents.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ContentType = "application/problem+json"
	baseTypeURL = "https://errors.marketplace-wallet.dev/"
	traceHeader = "X-Trace-ID"
)

// Details is the RFC 7807 body. RequestID carries the trace id of the failed request.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Type expands a slug such as "payout/below-minimum" into its type URI. Absolute URIs
// and about:blank pass through unchanged.
func Type(slug string) string {
	switch {
	case slug == "", slug == "about:blank":
		return "about:blank"
	case strings.HasPrefix(slug, "http://"), strings.HasPrefix(slug, "https://"):
		return slug
	}
	return baseTypeURL + strings.TrimPrefix(slug, "/")
}

// Write sends a problem document. An empty title defaults to the status text.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	if title == "" {
		title = http.StatusText(status)
	}
	d := Details{
		Type:   Type(problemType),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get(traceHeader)
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get(traceHeader)
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
