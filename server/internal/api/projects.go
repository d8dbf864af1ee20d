package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitesmith/sitesmith/server/internal/generator"
	"github.com/sitesmith/sitesmith/server/internal/project"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

// writeProjectError maps project service errors onto responses.
func (s *Server) writeProjectError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, project.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, store.ErrInsufficientCredits):
		writeError(w, http.StatusForbidden, "insufficient credits")
	case errors.Is(err, generator.ErrEmptyPrompt):
		writeError(w, http.StatusBadRequest, "prompt is required")
	case errors.Is(err, project.ErrEmptyCode):
		writeError(w, http.StatusBadRequest, "code is required")
	case errors.Is(err, project.ErrGeneration):
		writeError(w, http.StatusBadGateway, "failed to generate website, your credits were refunded")
	default:
		s.logger.Error("project operation failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	var req struct {
		InitialPrompt string `json:"initial_prompt"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}

	p, err := s.projects.Create(r.Context(), identity.UserID, req.InitialPrompt)
	if err != nil {
		s.writeProjectError(w, err, "create project")
		return
	}
	s.audit(r, "project.created", identity.UserID, map[string]string{"project_id": p.ID})
	writeJSON(w, http.StatusCreated, map[string]string{"projectId": p.ID})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	d, err := s.projects.Get(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeProjectError(w, err, "get project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": d})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	list, err := s.projects.List(r.Context(), identity.UserID)
	if err != nil {
		s.writeProjectError(w, err, "list projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": list})
}

func (s *Server) handleTogglePublish(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	published, err := s.projects.TogglePublish(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeProjectError(w, err, "update project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_published": published})
}

func (s *Server) handleRevision(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	var req struct {
		Message string `json:"message"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	v, err := s.projects.Revise(r.Context(), identity.UserID, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.writeProjectError(w, err, "revise project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": v})
}

func (s *Server) handleSaveProject(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	var req struct {
		Code string `json:"code"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.projects.Save(r.Context(), identity.UserID, chi.URLParam(r, "id"), req.Code); err != nil {
		s.writeProjectError(w, err, "save project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "project saved"})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	v, err := s.projects.Rollback(r.Context(), identity.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "versionID"))
	if err != nil {
		s.writeProjectError(w, err, "roll back project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": v})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.projects.Delete(r.Context(), identity.UserID, id); err != nil {
		s.writeProjectError(w, err, "delete project")
		return
	}
	s.audit(r, "project.deleted", identity.UserID, map[string]string{"project_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "project deleted"})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	code, err := s.projects.Preview(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeProjectError(w, err, "get project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleListPublished(w http.ResponseWriter, r *http.Request) {
	list, err := s.projects.Published(r.Context())
	if err != nil {
		s.writeProjectError(w, err, "list projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": list})
}

func (s *Server) handleGetPublished(w http.ResponseWriter, r *http.Request) {
	code, err := s.projects.PublishedCode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeProjectError(w, err, "get project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}
