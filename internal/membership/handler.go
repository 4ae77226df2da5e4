// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"

	"coopcredit/internal/domain"
	"coopcredit/internal/httpx"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the member routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/members", h.HandleEnroll)
	r.Get("/members", h.HandleList)
	r.Get("/members/{id}", h.HandleGet)
	r.Post("/members/{id}/shares", h.HandleBuyShares)
	r.Put("/members/{id}/rating", h.HandleOverrideRating)
	r.Delete("/members/{id}/access", h.HandleRevokeAccess)
	r.Post("/sessions", h.HandleLogin)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRateLimited):
		httpx.WriteError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
	default:
		httpx.WriteDomainError(w, err)
	}
}

func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	member, err := h.service.EnrollMember(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, member)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, members)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid member ID")
		return
	}
	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) HandleBuyShares(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid member ID")
		return
	}
	var req struct {
		Shares int `json:"shares"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	member, err := h.service.BuyShares(r.Context(), id, req.Shares)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) HandleOverrideRating(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid member ID")
		return
	}
	var req struct {
		Rating domain.Rating `json:"rating" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	member, err := h.service.OverrideRating(r.Context(), id, req.Rating)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) HandleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid member ID")
		return
	}
	member, err := h.service.RevokeAccess(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, member)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NationalID string `json:"national_id" validate:"required"`
		Password   string `json:"password" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	member, err := h.service.Authenticate(r.Context(), req.NationalID, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, member)
}
