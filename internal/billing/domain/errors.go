package domain

import "errors"

var (
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrInvalidPurchase    = errors.New("invalid_purchase")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrPaymentNotCaptured = errors.New("payment_not_captured")
	ErrAmountMismatch     = errors.New("amount_mismatch")
	ErrInvoiceNotPayable  = errors.New("invoice_not_payable")
	ErrEventIgnored       = errors.New("event_ignored")
	ErrReceiptUnavailable = errors.New("receipt_unavailable")
)
