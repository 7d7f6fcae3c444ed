package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dejobratic/paygate/internal/payments/app"
	"github.com/dejobratic/paygate/internal/payments/app/commands"
	"github.com/dejobratic/paygate/internal/payments/domain"
	"github.com/dejobratic/paygate/internal/payments/ports"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// Handler exposes HTTP endpoints for payment operations.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
	metrics *Metrics
}

// NewHandler constructs a Handler. metrics may be nil.
func NewHandler(service *app.Service, logger *slog.Logger, metrics *Metrics) *Handler {
	return &Handler{service: service, logger: logger, metrics: metrics}
}

// Register binds the payment routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/capabilities", h.capabilities)
		r.Post("/payment-methods", h.createPaymentMethod)
		r.Get("/payments/{paymentID}", h.getPayment)

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Put("/", h.registerOrder)
			r.Get("/", h.getOrder)
			r.Post("/payments", h.charge)
			r.Get("/redirect", h.redirect)
			r.Get("/return", h.handleReturn)
		})
	})
}

type chargeResponse struct {
	Payment *domain.Payment `json:"payment,omitempty"`
	Notices []domain.Notice `json:"notices,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header required")
		return
	}

	if stored, err := h.service.GetIdempotentResponse(ctx, idemKey); err != nil {
		h.writeServiceError(w, r, fmt.Errorf("idempotency lookup: %w", err))
		return
	} else if stored != nil {
		h.replay(w, r, stored)
		return
	}

	var input app.ChargeInput
	if !decode(w, r, &input) {
		return
	}
	input.OrderID = chi.URLParam(r, "orderID")

	reserved, err := h.service.ReserveIdempotencyKey(ctx, idemKey)
	if err != nil {
		h.writeServiceError(w, r, fmt.Errorf("idempotency reserve: %w", err))
		return
	}
	if !reserved {
		// The holder may have finished since the lookup above.
		if stored, err := h.service.GetIdempotentResponse(ctx, idemKey); err == nil && stored != nil {
			h.replay(w, r, stored)
			return
		}
		writeError(w, http.StatusConflict, "a request with this Idempotency-Key is in progress")
		return
	}

	result, err := h.service.Charge(ctx, input)
	status := chargeStatus(err)

	response := chargeResponse{Payment: result.Payment, Notices: result.Notices}
	if err != nil && !domain.IsBusinessOutcome(err) {
		response.Error = publicMessage(status, err)
	}
	body, encErr := json.Marshal(response)
	if encErr != nil {
		h.releaseKey(ctx, idemKey)
		h.writeServiceError(w, r, fmt.Errorf("encode charge response: %w", encErr))
		return
	}

	// Retryable failures must not be pinned to the key; the retry takes a
	// fresh merchant reference.
	if result.Payment != nil && !domain.Retryable(err) && status < http.StatusInternalServerError {
		stored := ports.StoredResponse{
			StatusCode: status,
			Body:       body,
			PaymentID:  result.Payment.ID,
		}
		if err := h.service.SaveIdempotentResponse(context.WithoutCancel(ctx), idemKey, stored); err != nil {
			h.logger.ErrorContext(ctx, "failed to store idempotent response",
				"payment_id", result.Payment.ID,
				"error", err,
			)
		}
	} else {
		h.releaseKey(ctx, idemKey)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, stored *ports.StoredResponse) {
	h.metrics.RecordReplay(r.Context(), stored.StatusCode)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.StatusCode)
	_, _ = w.Write(stored.Body)
}

// releaseKey runs even when the client has gone away, so a retry is not
// answered with 409 until the reservation lapses.
func (h *Handler) releaseKey(ctx context.Context, key string) {
	if err := h.service.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); err != nil {
		h.logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
	}
}

func (h *Handler) createPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var input app.PaymentMethodInput
	if !decode(w, r, &input) {
		return
	}

	method, err := h.service.CreatePaymentMethod(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment_method": method})
}

func (h *Handler) registerOrder(w http.ResponseWriter, r *http.Request) {
	var input app.OrderInput
	if !decode(w, r, &input) {
		return
	}
	input.OrderID = chi.URLParam(r, "orderID")

	order, err := h.service.RegisterOrder(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	form, err := h.service.BuildRedirect(r.Context(), chi.URLParam(r, "orderID"), r.URL.Query().Get("return_url"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if form.Method == app.RedirectGet {
		http.Redirect(w, r, form.URL, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redirect": form})
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payment, err := h.service.HandleReturn(r.Context(), commands.HandleReturnCommand{
		OrderID:       chi.URLParam(r, "orderID"),
		TxnID:         q.Get("txn_id"),
		PaymentStatus: q.Get("payment_status"),
		Signature:     q.Get("signature"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

func (h *Handler) capabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Capabilities())
}

// chargeStatus maps a charge outcome to the response status.
func chargeStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusCreated
	case errors.Is(err, domain.ErrDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrUnderReview):
		return http.StatusAccepted
	default:
		return errorStatus(err)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGatewayTransport),
		errors.Is(err, domain.ErrGatewayProtocol),
		errors.Is(err, domain.ErrVault):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error text behind 5xx responses.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusServiceUnavailable:
		return "payment gateway unavailable"
	case http.StatusBadGateway:
		return "payment gateway error"
	case http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, publicMessage(status, err))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
