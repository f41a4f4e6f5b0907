package handlers

import (
	"net/http"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/payment"
	"github.com/gitshopapp/checkout/internal/services"
)

type updateStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
	Reason         string `json:"reason"`
}

type refundRequest struct {
	// AmountCents of zero refunds the full order total.
	AmountCents int64 `json:"amountCents"`
}

type refundResponse struct {
	Order  *db.Order             `json:"order"`
	Refund *payment.RefundRecord `json:"refund,omitempty"`
}

func (h *Handlers) AdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), services.UpdateStatusInput{
		OrderID:        orderID,
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.loggerFromContext(r.Context()).Info("order status updated by admin", "order_id", order.ID, "status", order.Status)
	writeData(w, r, http.StatusOK, order)
}

func (h *Handlers) AdminRefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}

	var req refundRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
			return
		}
	}

	result, err := h.payments.Refund(r.Context(), orderID, req.AmountCents)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.loggerFromContext(r.Context()).Info("order refunded by admin", "order_id", orderID)
	writeData(w, r, http.StatusOK, refundResponse{Order: result.Order, Refund: result.Refund})
}

// AdminMarkPaid records cash collected on delivery.
func (h *Handlers) AdminMarkPaid(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, services.CodeValidation, err.Error())
		return
	}

	result, err := h.payments.MarkCashCollected(r.Context(), orderID)
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
