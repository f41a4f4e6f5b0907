package payment

import "context"

const (
	StatusAwaitingCash         = "awaiting_cash"
	StatusManualRefundRequired = "manual_refund_required"
)

// CashGateway handles cash on delivery. Payments settle only through the
// operator marking the order collected.
type CashGateway struct{}

func NewCashGateway() *CashGateway {
	return &CashGateway{}
}

func (g *CashGateway) Kind() Kind {
	return KindCash
}

func (g *CashGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	return &Intent{
		ProviderID: "cod_" + req.OrderID.String(),
		Status:     StatusPending,
	}, nil
}

func (g *CashGateway) Confirm(_ context.Context, providerID string) (*Confirmation, error) {
	return &Confirmation{ProviderID: providerID, Status: StatusAwaitingCash}, nil
}

func (g *CashGateway) Refund(_ context.Context, req RefundRequest) (*RefundRecord, error) {
	return &RefundRecord{
		ID:      "refund_" + req.ProviderID,
		Status:  StatusManualRefundRequired,
		Message: "Cash refunds must be processed manually",
	}, nil
}

func (g *CashGateway) VerifyWebhookSignature([]byte, string) bool {
	return false
}
