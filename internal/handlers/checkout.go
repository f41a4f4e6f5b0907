package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/services"
)

type createPaymentIntentRequest struct {
	OrderID string `json:"orderId"`
}

type paymentIntentResponse struct {
	PaymentID         uuid.UUID `json:"paymentId"`
	ProviderPaymentID string    `json:"providerPaymentId"`
	Provider          string    `json:"provider"`
	ClientSecret      string    `json:"clientSecret,omitempty"`
	CheckoutURL       string    `json:"checkoutUrl,omitempty"`
	AmountCents       int64     `json:"amountCents"`
	Currency          string    `json:"currency"`
	TestMode          bool      `json:"testMode"`
}

type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type confirmPaymentResponse struct {
	Paid             bool        `json:"paid"`
	AlreadyProcessed bool        `json:"alreadyProcessed"`
	Order            *db.Order   `json:"order,omitempty"`
	Payment          *db.Payment `json:"payment,omitempty"`
}

type paymentStatusResponse struct {
	OrderID           uuid.UUID        `json:"orderId"`
	PaymentID         uuid.UUID        `json:"paymentId"`
	ProviderPaymentID string           `json:"providerPaymentId"`
	Provider          string           `json:"provider"`
	Status            db.PaymentStatus `json:"status"`
	AmountCents       int64            `json:"amountCents"`
	Currency          string           `json:"currency"`
	TestMode          bool             `json:"testMode"`
}

// CreatePaymentIntent opens a payment with the order's gateway, or returns
// the pending one if the customer already started checkout.
func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	var req createPaymentIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil || orderID == uuid.Nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, "orderId must be a valid UUID")
		return
	}

	payment, err := h.payments.CreateOrReuseIntent(r.Context(), orderID, sess.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, paymentIntentResponse{
		PaymentID:         payment.ID,
		ProviderPaymentID: payment.ProviderPaymentID,
		Provider:          payment.Provider,
		ClientSecret:      payment.ClientSecret,
		CheckoutURL:       payment.CheckoutURL,
		AmountCents:       payment.AmountCents,
		Currency:          payment.Currency,
		TestMode:          payment.TestMode,
	})
}

func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	var req confirmPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}

	result, err := h.payments.Confirm(r.Context(), strings.TrimSpace(req.PaymentIntentID), sess.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, confirmPaymentResponse{
		Paid:             result.Paid,
		AlreadyProcessed: result.AlreadyProcessed,
		Order:            result.Order,
		Payment:          result.Payment,
	})
}

func (h *Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	orderID, err := pathUUID(r, "orderId")
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}

	payment, err := h.payments.PaymentStatus(r.Context(), orderID, sess.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, paymentStatusResponse{
		OrderID:           payment.OrderID,
		PaymentID:         payment.ID,
		ProviderPaymentID: payment.ProviderPaymentID,
		Provider:          payment.Provider,
		Status:            payment.Status,
		AmountCents:       payment.AmountCents,
		Currency:          payment.Currency,
		TestMode:          payment.TestMode,
	})
}

// VerifyStripeSession is hit by the success page after the hosted Stripe
// checkout redirects back with its session id.
func (h *Handlers) VerifyStripeSession(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, "session_id is required")
		return
	}

	verification, err := h.payments.VerifyStripeSession(r.Context(), sessionID, sess.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, verification)
}
