package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gitshopapp/checkout/internal/services"
)

const defaultOrderListLimit = 50

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CreateOrder places an order for the signed-in customer.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	var input services.CreateOrderInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}
	input.UserID = sess.UserID
	if strings.TrimSpace(input.Email) == "" {
		input.Email = sess.Email
	}

	order, err := h.orders.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.loggerFromContext(r.Context()).Info("order created", "order_id", order.ID, "order_number", order.OrderNumber)
	writeData(w, r, http.StatusCreated, order)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	limit := defaultOrderListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListForUser(r.Context(), sess.UserID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, orders)
}

// GetOrder returns one of the caller's orders. Unpaid online orders are
// hidden unless the checkout page asks for them with include=pending.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}
	includePending := strings.EqualFold(r.URL.Query().Get("include"), "pending")

	order, err := h.orders.Get(r.Context(), orderID, sess.UserID, includePending)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, order)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	sess := h.currentUser(r)
	if sess == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, codeUnauthorized, "Authentication required")
		return
	}

	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
			return
		}
	}

	order, err := h.orders.Cancel(r.Context(), orderID, sess.UserID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.loggerFromContext(r.Context()).Info("order cancelled by customer", "order_id", order.ID)
	writeData(w, r, http.StatusOK, order)
}
