package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/crypto"
	"github.com/skye-cyber/DistriChat/internal/models"
	"github.com/skye-cyber/DistriChat/internal/store"
)

const defaultMaxRooms = 50

// RegisterNodeRequest is the request body for node registration. Capacity
// is the node's declared maximum of concurrently hosted rooms.
type RegisterNodeRequest struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	AdminEmail string `json:"admin_email"`
	Capacity   int    `json:"capacity"`
}

// RegisterNodeResponse is the registration outcome. APIKey is present only
// on auto-approval and is never retrievable again.
type RegisterNodeResponse struct {
	RegistrationID string                    `json:"registration_id"`
	Status         models.RegistrationStatus `json:"status"`
	NodeID         string                    `json:"node_id,omitempty"`
	APIKey         string                    `json:"api_key,omitempty"`
}

// RegisterNode handles POST /nodes/register.
func (h *Handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req RegisterNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = sanitizeName(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	if req.Name == "" || req.URL == "" {
		h.Error(w, http.StatusBadRequest, "name and url are required")
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		h.Error(w, http.StatusBadRequest, "url must be an http(s) URL")
		return
	}
	if !isValidEmail(req.AdminEmail) {
		h.Error(w, http.StatusBadRequest, "invalid admin_email")
		return
	}
	if req.Capacity <= 0 {
		req.Capacity = defaultMaxRooms
	}

	if existing, err := h.store.GetNodeByURL(r.Context(), req.URL); err != nil {
		h.Error(w, http.StatusInternalServerError, "registration failed")
		return
	} else if existing != nil {
		h.Error(w, http.StatusConflict, "url already registered")
		return
	}
	if prior, err := h.store.GetRegistrationByURL(r.Context(), req.URL); err != nil {
		h.Error(w, http.StatusInternalServerError, "registration failed")
		return
	} else if prior != nil {
		if prior.Status == models.RegistrationPending {
			h.Error(w, http.StatusConflict, "registration already pending approval")
			return
		}
		h.Error(w, http.StatusConflict, "url already registered")
		return
	}

	reg := &models.NodeRegistration{
		NodeName:   req.Name,
		NodeURL:    req.URL,
		AdminEmail: req.AdminEmail,
		MaxRooms:   req.Capacity,
		Status:     models.RegistrationPending,
	}
	if err := h.store.CreateRegistration(r.Context(), reg); err != nil {
		if err == store.ErrDuplicateURL {
			h.Error(w, http.StatusConflict, "url already registered")
			return
		}
		log.Error().Err(err).Msg("registration not stored")
		h.Error(w, http.StatusInternalServerError, "registration failed")
		return
	}

	resp := RegisterNodeResponse{
		RegistrationID: reg.ID.String(),
		Status:         reg.Status,
	}

	if h.autoApprove {
		node, apiKey, err := h.approveRegistration(r.Context(), reg)
		if err != nil {
			log.Error().Err(err).Str("registration_id", reg.ID.String()).Msg("auto-approval failed")
			h.Error(w, http.StatusInternalServerError, "registration failed")
			return
		}
		resp.Status = models.RegistrationApproved
		resp.NodeID = node.ID.String()
		resp.APIKey = apiKey
	}

	log.Info().
		Str("registration_id", reg.ID.String()).
		Str("node_url", req.URL).
		Str("status", string(resp.Status)).
		Msg("node registration")
	h.JSON(w, http.StatusCreated, resp)
}

// approveRegistration turns a pending registration into a live node and
// mints its API key. The raw key is returned exactly once.
func (h *Handler) approveRegistration(ctx context.Context, reg *models.NodeRegistration) (*models.Node, string, error) {
	apiKey, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	hash, err := crypto.HashAPIKey(apiKey)
	if err != nil {
		return nil, "", err
	}

	node := &models.Node{
		Name:       reg.NodeName,
		URL:        reg.NodeURL,
		APIKeyHash: hash,
		Status:     models.NodeStatusPending,
		MaxRooms:   reg.MaxRooms,
	}
	if err := h.store.CreateNode(ctx, node); err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	reg.Status = models.RegistrationApproved
	reg.ApprovedAt = &now
	if err := h.store.UpdateRegistration(ctx, reg); err != nil {
		return nil, "", err
	}

	h.registry.Add(*node)
	return node, apiKey, nil
}

// ApproveRegistration handles POST /nodes/registrations/{id}/approve
// (admin).
func (h *Handler) ApproveRegistration(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.loadPendingRegistration(w, r)
	if !ok {
		return
	}

	node, apiKey, err := h.approveRegistration(r.Context(), reg)
	if err != nil {
		log.Error().Err(err).Str("registration_id", reg.ID.String()).Msg("approval failed")
		h.Error(w, http.StatusInternalServerError, "approval failed")
		return
	}

	log.Info().
		Str("registration_id", reg.ID.String()).
		Str("node_id", node.ID.String()).
		Msg("registration approved")
	h.JSON(w, http.StatusOK, RegisterNodeResponse{
		RegistrationID: reg.ID.String(),
		Status:         models.RegistrationApproved,
		NodeID:         node.ID.String(),
		APIKey:         apiKey,
	})
}

// RejectRegistration handles POST /nodes/registrations/{id}/reject (admin).
func (h *Handler) RejectRegistration(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.loadPendingRegistration(w, r)
	if !ok {
		return
	}

	reg.Status = models.RegistrationRejected
	if err := h.store.UpdateRegistration(r.Context(), reg); err != nil {
		h.Error(w, http.StatusInternalServerError, "rejection failed")
		return
	}

	log.Info().Str("registration_id", reg.ID.String()).Msg("registration rejected")
	h.JSON(w, http.StatusOK, RegisterNodeResponse{
		RegistrationID: reg.ID.String(),
		Status:         models.RegistrationRejected,
	})
}

// ListRegistrations handles GET /nodes/registrations?status=pending (admin).
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	status := models.RegistrationStatus(r.URL.Query().Get("status"))
	regs, err := h.store.ListRegistrations(r.Context(), status)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if regs == nil {
		regs = []models.NodeRegistration{}
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"registrations": regs,
		"total":         len(regs),
	})
}

func (h *Handler) loadPendingRegistration(w http.ResponseWriter, r *http.Request) (*models.NodeRegistration, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid registration id")
		return nil, false
	}

	reg, err := h.store.GetRegistration(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "lookup failed")
		return nil, false
	}
	if reg == nil {
		h.Error(w, http.StatusNotFound, "registration not found")
		return nil, false
	}
	if reg.Status != models.RegistrationPending {
		h.Error(w, http.StatusConflict, "registration already "+string(reg.Status))
		return nil, false
	}
	return reg, true
}
