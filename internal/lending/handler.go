// internal/lending/handler.go
package lending

import (
	"net/http"
	"time"

	"coopcredit/internal/domain"
	"coopcredit/internal/eventstore"
	"coopcredit/internal/finance"
	"coopcredit/internal/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service Service
	events  eventstore.Store
}

// NewHandler builds the HTTP surface of the lending engine. events may be nil,
// in which case the loan event stream endpoint answers 404.
func NewHandler(service Service, events eventstore.Store) *Handler {
	return &Handler{service: service, events: events}
}

// Register mounts the lending routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/loan-requests", func(r chi.Router) {
		r.Post("/", h.HandleSubmitRequest)
		r.Get("/", h.HandleListRequests)
		r.Get("/{id}", h.HandleGetRequest)
		r.Post("/{id}/approve", h.HandleApproveRequest)
		r.Post("/{id}/reject", h.HandleRejectRequest)
	})
	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.HandleListLoans)
		r.Get("/overdue", h.HandleOverdueLoans)
		r.Get("/upcoming", h.HandleUpcomingPayments)
		r.Get("/{id}", h.HandleGetLoan)
		r.Patch("/{id}", h.HandleModifyTerms)
		r.Post("/{id}/payments", h.HandleRegisterPayment)
		r.Get("/{id}/payments", h.HandlePaymentHistory)
		r.Get("/{id}/schedule", h.HandlePaymentSchedule)
		r.Get("/{id}/quote", h.HandleQuotePayment)
		r.Get("/{id}/events", h.HandleLoanEvents)
	})
	r.Get("/statistics", h.HandleStatistics)
	r.Post("/loan-previews", h.HandlePreviewLoan)
	r.Get("/members/{id}/capacity", h.HandleCapacity)
}

type submitRequestBody struct {
	MemberID     uuid.UUID       `json:"member_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Term         int             `json:"term"`
	Purpose      string          `json:"purpose"`
	RequiredDate string          `json:"required_date" validate:"required"`
}

func (h *Handler) HandleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequestBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	required, err := httpx.ParseDate(req.RequiredDate)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	request, err := h.service.SubmitLoanRequest(r.Context(), SubmitLoanRequestInput{
		MemberID:     req.MemberID,
		Amount:       req.Amount,
		Term:         req.Term,
		Purpose:      req.Purpose,
		RequiredDate: required,
	})
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, request)
}

func (h *Handler) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	status := domain.RequestStatus(r.URL.Query().Get("status"))
	requests, err := h.service.ListLoanRequests(r.Context(), status)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, requests)
}

func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	request, err := h.service.GetLoanRequest(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) HandleApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	loan, err := h.service.ApproveLoanRequest(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleRejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Reason string `json:"reason" validate:"max=500"`
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	request, err := h.service.RejectLoanRequest(r.Context(), id, req.Reason)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, request)
}

func (h *Handler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	filter := LoanFilter{Status: domain.LoanStatus(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("member_id"); raw != "" {
		memberID, err := uuid.Parse(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid member_id")
			return
		}
		filter.MemberID = memberID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.WriteError(w, http.StatusBadRequest, "invalid status")
		return
	}
	loans, err := h.service.ListLoans(r.Context(), filter)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleOverdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.OverdueLoans(r.Context())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleUpcomingPayments(w http.ResponseWriter, r *http.Request) {
	days, err := httpx.QueryInt(r, "days", int(DefaultUpcomingWindow/finance.Day))
	if err != nil || days < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid days")
		return
	}
	upcoming, err := h.service.UpcomingPayments(r.Context(), time.Duration(days)*finance.Day)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, upcoming)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}

type modifyTermsBody struct {
	DueDate         *string            `json:"due_date"`
	Status          *domain.LoanStatus `json:"status"`
	RemainingAmount *decimal.Decimal   `json:"remaining_amount"`
}

func (h *Handler) HandleModifyTerms(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req modifyTermsBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := TermsPatch{Status: req.Status, RemainingAmount: req.RemainingAmount}
	if req.DueDate != nil {
		due, err := httpx.ParseDate(*req.DueDate)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		patch.DueDate = &due
	}

	loan, err := h.service.ModifyLoanTerms(r.Context(), id, patch)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) HandleRegisterPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Date   string          `json:"date"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := httpx.ParseDate(req.Date)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	loan, err := h.service.RegisterPayment(r.Context(), id, req.Amount, date)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := h.service.PaymentHistory(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, history)
}

func (h *Handler) HandlePaymentSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	schedule, err := h.service.PaymentSchedule(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, schedule)
}

func (h *Handler) HandleQuotePayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := httpx.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := h.service.QuotePayment(r.Context(), id, date)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quote)
}

func (h *Handler) HandleLoanEvents(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.events == nil {
		httpx.WriteError(w, http.StatusNotFound, "event history is not enabled")
		return
	}
	if _, err := h.service.GetLoan(r.Context(), id); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	events, err := h.events.LoadEvents(r.Context(), id, 0, 0)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetBankingStatistics(r.Context())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandlePreviewLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Term      int             `json:"term"`
		StartDate string          `json:"start_date"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := httpx.ParseDate(req.StartDate)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	preview, err := h.service.PreviewLoan(r.Context(), req.Amount, req.Term, start)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) HandleCapacity(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	capacity, err := h.service.BorrowingCapacity(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, capacity)
}
