package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/contract"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

// PaymentNotification receives payment provider webhooks. Verification and
// idempotency live in the dispatcher; re-delivery of an applied event
// answers 200 so the provider stops retrying.
func (h *Handler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	err := h.dispatcher.Handle(r.Context(), r)
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch {
	case errors.Is(err, payment.ErrParseNotification):
		respondError(w, r, http.StatusBadRequest, err.Error())

	default:
		var (
			unknownErr *payment.UnknownOrderError
			instErr    *order.InstallmentNotFoundError
			guardErr   *order.GuardError
			amountErr  *order.AmountMismatchError
		)
		switch {
		case errors.As(err, &unknownErr), errors.As(err, &instErr):
			respondError(w, r, http.StatusNotFound, err.Error())
		case errors.As(err, &guardErr):
			respondError(w, r, http.StatusConflict, guardErr.Error())
		case errors.As(err, &amountErr):
			respondError(w, r, http.StatusUnprocessableEntity, amountErr.Error())
		default:
			zctx.From(r.Context()).Error("Payment notification failed", zap.Error(err))
			respondError(w, r, http.StatusInternalServerError, "internal error")
		}
	}
}

// SignatureNotification receives e-signature provider webhooks.
func (h *Handler) SignatureNotification(w http.ResponseWriter, r *http.Request) {
	err := h.contracts.HandleNotification(r.Context(), r)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, contract.ErrVerifyEvent):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, contract.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())
	default:
		zctx.From(r.Context()).Error("Signature notification failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
