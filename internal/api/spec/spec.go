// Package spec embeds the OpenAPI document of the wallet API and serves it with Swagger UI.
package spec

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"
)

// DocumentPath is where the router serves the raw OpenAPI document.
const DocumentPath = "/docs/openapi.yaml"

//go:embed openapi.yaml
var document []byte

var documentETag = func() string {
	sum := sha256.Sum256(document)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

// OpenAPIHandler serves the embedded document and answers conditional requests with 304.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", documentETag)
		w.Header().Set("Cache-Control", "public, max-age=300")
		if r.Header.Get("If-None-Match") == documentETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(document)
	}
}

// SwaggerUI renders the interactive docs over the embedded document.
func SwaggerUI() http.HandlerFunc {
	return httpSwagger.Handler(httpSwagger.URL(DocumentPath))
}
