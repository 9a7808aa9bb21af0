package handlers

import (
	"net/http"

	"github.com/taskorch/engine/internal/controlplane"
)

// SystemHandler serves the namespace/runner/health routes of §6.
type SystemHandler struct {
	cp               *controlplane.ControlPlane
	defaultNamespace string
}

// NewSystemHandler creates a SystemHandler bound to cp.
func NewSystemHandler(cp *controlplane.ControlPlane, defaultNamespace string) *SystemHandler {
	return &SystemHandler{cp: cp, defaultNamespace: defaultNamespace}
}

// ListNamespaces handles GET /api/namespaces.
func (h *SystemHandler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := h.cp.ListNamespaces(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list namespaces")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"namespaces":        namespaces,
		"current_namespace": h.defaultNamespace,
	})
}

// ListRunners handles GET /api/runners.
func (h *SystemHandler) ListRunners(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	runners := h.cp.ListRunnersWithStatus(ns)
	respondJSON(w, http.StatusOK, map[string]any{
		"namespace": ns,
		"runners":   runners,
	})
}

// Health handles GET /api/health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	if ns == "" {
		ns = h.defaultNamespace
	}
	respondJSON(w, http.StatusOK, h.cp.Health(r.Context(), ns))
}
