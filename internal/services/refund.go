package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gitshopapp/checkout/internal/db"
	"github.com/gitshopapp/checkout/internal/observability"
	"github.com/gitshopapp/checkout/internal/payment"
)

// issueRefund returns a settled payment's money through the gateway that took
// it. An amount of 0 refunds the full charge. The returned reference is the
// provider refund id, or the refund status when the money has to be returned
// by hand.
func issueRefund(ctx context.Context, gateways GatewayResolver, p *db.Payment, order *db.Order, amountCents int64) (*payment.RefundRecord, string, error) {
	kind := payment.ParseKind(p.Provider)
	if gateways == nil {
		return nil, "", newError(KindPaymentGateway, CodeGatewayUnavailable, fmt.Sprintf("Payment method %s is not available", kind), payment.ErrGatewayUnavailable)
	}
	gateway, err := gateways.Resolve(kind)
	if err != nil {
		return nil, "", newError(KindPaymentGateway, CodeGatewayUnavailable, fmt.Sprintf("Payment method %s is not available", kind), err)
	}
	record, err := gateway.Refund(ctx, payment.RefundRequest{
		ProviderID:     p.ProviderPaymentID,
		OrderReference: strconv.Itoa(order.OrderNumber),
		AmountCents:    amountCents,
	})
	if err != nil {
		observability.RecordCheckout(ctx, kind.String(), "refund.failed")
		return nil, "", paymentGatewayError(err)
	}
	reference := record.ID
	if reference == "" || record.Status == payment.StatusManualRefundRequired {
		reference = record.Status
	}
	observability.RecordCheckout(ctx, kind.String(), "refunded")
	return record, reference, nil
}
