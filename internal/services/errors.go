package services

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindProductInactive   ErrorKind = "product_inactive"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindInvalidState      ErrorKind = "invalid_state"
	KindConflict          ErrorKind = "conflict"
	KindPaymentGateway    ErrorKind = "payment_gateway"
	KindSecurity          ErrorKind = "security"
	KindForbidden         ErrorKind = "forbidden"
)

const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeOrderNotFound           = "ORDER_NOT_FOUND"
	CodeProductNotFound         = "PRODUCT_NOT_FOUND"
	CodePaymentNotFound         = "PAYMENT_NOT_FOUND"
	CodeProductInactive         = "PRODUCT_INACTIVE"
	CodeInsufficientStock       = "INSUFFICIENT_STOCK"
	CodeInvalidOrderStatus      = "INVALID_ORDER_STATUS"
	CodeCannotCancel            = "CANNOT_CANCEL"
	CodePaymentAlreadyCompleted = "PAYMENT_ALREADY_COMPLETED"
	CodePaymentAlreadyConfirmed = "PAYMENT_ALREADY_CONFIRMED"
	CodePaymentInProgress       = "PAYMENT_IN_PROGRESS"
	CodePaymentGateway          = "PAYMENT_GATEWAY_ERROR"
	CodeGatewayUnavailable      = "PAYMENT_METHOD_UNAVAILABLE"
	CodeInvalidSignature        = "INVALID_SIGNATURE"
	CodeForbidden               = "FORBIDDEN"
	CodePaymentRequired         = "PAYMENT_REQUIRED"
)

// Error is the typed error every service operation returns for expected
// failures. Handlers map Kind to an HTTP status and render Code and Message.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, and by code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrProductInactive   = &Error{Kind: KindProductInactive}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrPaymentGateway    = &Error{Kind: KindPaymentGateway}
	ErrSecurity          = &Error{Kind: KindSecurity}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

func newError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func validationError(message string, err error) *Error {
	return newError(KindValidation, CodeValidation, message, err)
}

func notFoundError(code, message string) *Error {
	return newError(KindNotFound, code, message, nil)
}

func invalidStateError(code, message string, err error) *Error {
	return newError(KindInvalidState, code, message, err)
}

func conflictError(code, message string) *Error {
	return newError(KindConflict, code, message, nil)
}

func paymentGatewayError(err error) *Error {
	return newError(KindPaymentGateway, CodePaymentGateway, "Payment provider request failed", err)
}

func securityError(message string) *Error {
	return newError(KindSecurity, CodeInvalidSignature, message, nil)
}

func forbiddenError(code, message string) *Error {
	return newError(KindForbidden, code, message, nil)
}

// AsError extracts the service error from err.
func AsError(err error) (*Error, bool) {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return nil, false
}

// describeValidation turns the first validator failure into a readable message.
func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request"
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "uuid":
		return field + " must be a valid id"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
