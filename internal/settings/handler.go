// internal/settings/handler.go
package settings

import (
	"net/http"
	"strings"

	"coopcredit/internal/domain"
	"coopcredit/internal/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// View is the wire form of the settings.
type View struct {
	ShareValue      decimal.Decimal   `json:"share_value"`
	LoanLimits      domain.LoanLimits `json:"loan_limits"`
	InterestRates   domain.RateTiers  `json:"monthly_interest_rates"`
	OperationDay    string            `json:"operation_day"`
	DelinquencyRate decimal.Decimal   `json:"delinquency_rate"`
}

// ViewOf renders settings for clients, filling in default tiers when none are set.
func ViewOf(s domain.Settings) View {
	tiers := domain.DefaultRateTiers()
	if s.InterestRates != nil {
		tiers = *s.InterestRates
	}
	return View{
		ShareValue:      s.ShareValue,
		LoanLimits:      s.LoanLimits,
		InterestRates:   tiers,
		OperationDay:    strings.ToLower(s.OperationDay.String()),
		DelinquencyRate: s.DelinquencyRate,
	}
}

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Register mounts GET and PATCH /settings.
func (h *Handler) Register(r chi.Router) {
	r.Get("/settings", h.HandleGet)
	r.Patch("/settings", h.HandleUpdate)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	current, err := h.store.Current(r.Context())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ViewOf(current))
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var u Update
	if err := httpx.DecodeJSON(r, &u); err != nil {
		// Field validation failures are range errors, not malformed input.
		if strings.HasPrefix(err.Error(), "invalid field") {
			httpx.WriteDomainError(w, domain.Invalid(domain.RuleSettingsRange, "%s", err.Error()))
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.store.Update(r.Context(), u)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ViewOf(updated))
}
