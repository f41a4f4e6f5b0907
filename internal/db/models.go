package db

import "github.com/gitshopapp/checkout/internal/models"

type Product = models.Product
type Order = models.Order
type OrderItem = models.OrderItem
type OrderStatus = models.OrderStatus
type PaymentStatus = models.PaymentStatus
type Payment = models.Payment
type Address = models.Address

const (
	StatusPending    = models.StatusPending
	StatusProcessing = models.StatusProcessing
	StatusShipped    = models.StatusShipped
	StatusDelivered  = models.StatusDelivered
	StatusCancelled  = models.StatusCancelled
	StatusRefunded   = models.StatusRefunded

	PaymentPending   = models.PaymentPending
	PaymentSucceeded = models.PaymentSucceeded
	PaymentFailed    = models.PaymentFailed
)
