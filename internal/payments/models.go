// Package payments is the Payment Intake component (§4.3): it creates a
// provider-side order bound to a pending booking and verifies/dispatches
// inbound webhook deliveries to the Booking Coordinator. It never talks
// to the payment gateway's UI and never reconciles refunds beyond
// marking state (both explicitly out of scope).
package payments

import "time"

// OrderResult is returned from CreateOrder for the client to hand to the
// provider's checkout widget.
type OrderResult struct {
	OrderID          string    `json:"order_id"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	Currency         string    `json:"currency"`
	Expiry           time.Time `json:"expiry"`
}

// WebhookEventType is the subset of provider event names §4.3 assigns
// meaning to; anything else is accepted and ignored.
type WebhookEventType string

const (
	EventPaymentCaptured  WebhookEventType = "payment.captured"
	EventPaymentAuthorized WebhookEventType = "payment.authorized"
	EventPaymentFailed    WebhookEventType = "payment.failed"
)

// WebhookPayload is the minimal shape pulled out of the provider's JSON
// body after signature verification. The verified body is unmarshalled
// directly into this struct; no per-provider field mapping is applied.
type WebhookPayload struct {
	Event     WebhookEventType `json:"event"`
	PaymentID string           `json:"payment_id"`
	OrderID   string           `json:"order_id"`
	// AmountMinorUnits is the captured amount in the currency's smallest
	// unit (paise/cents), never a floating point major-unit value, so
	// the amount-match check never depends on binary float rounding.
	AmountMinorUnits int64  `json:"amount"`
	Currency         string `json:"currency"`
}
