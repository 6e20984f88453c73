// Package v1 provides the cargo alternate registry web API.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/cargo-registry-server/internal/api/common"
	"github.com/stacklok/cargo-registry-server/internal/service"
)

// PublishWarnings lists the parts of a publish the registry ignored
type PublishWarnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}

// PublishResponse is the body returned for an accepted publish
type PublishResponse struct {
	Warnings PublishWarnings `json:"warnings"`
}

// Routes holds the v1 handlers
type Routes struct {
	service service.RegistryService
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.RegistryService) *Routes {
	return &Routes{
		service: svc,
	}
}

// Router creates the router mounted at /api/v1
func Router(svc service.RegistryService) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Put("/crates/new", routes.publish)
	r.Get("/crates/{name}/{version}", routes.download)
	r.Get("/crates/{name}/{version}/download", routes.download)
	r.Get("/files/*", routes.serveArchive)
	r.Get("/index/status", routes.indexStatus)

	return r
}

// publish handles PUT /api/v1/crates/new
func (rr *Routes) publish(w http.ResponseWriter, r *http.Request) {
	result, err := rr.service.Publish(r.Context(), r.Body)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}

	slog.DebugContext(r.Context(), "Publish accepted",
		"crate", result.Name,
		"version", result.Version,
		"checksum", result.Checksum)

	common.WriteJSONResponse(w, PublishResponse{
		Warnings: PublishWarnings{
			InvalidCategories: []string{},
			InvalidBadges:     []string{},
			Other:             []string{},
		},
	}, http.StatusOK)
}

// download handles GET /api/v1/crates/{name}/{version} by redirecting to
// the stored download URL
func (rr *Routes) download(w http.ResponseWriter, r *http.Request) {
	name, err := common.GetAndValidateURLParam(r, "name")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	version, err := common.GetAndValidateURLParam(r, "version")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	url, err := rr.service.ResolveDownload(r.Context(), name, version)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// serveArchive handles GET /api/v1/files/*
func (rr *Routes) serveArchive(w http.ResponseWriter, r *http.Request) {
	file, info, err := rr.service.OpenArchive(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("Failed to close archive", "path", info.Name(), "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/x-tar")
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// indexStatus handles GET /api/v1/index/status
func (rr *Routes) indexStatus(w http.ResponseWriter, _ *http.Request) {
	st := rr.service.WorkerStatus()
	if st == nil {
		common.WriteErrorResponse(w, "index worker is not running", http.StatusNotFound)
		return
	}
	common.WriteJSONResponse(w, st, http.StatusOK)
}
