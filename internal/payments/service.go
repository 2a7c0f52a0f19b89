package payments

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"evently-core/internal/booking"
	"evently-core/internal/shared/apperr"
	"evently-core/pkg/logger"

	"github.com/google/uuid"
)

const amountTolerance = 0.01

type Service interface {
	CreateOrder(ctx context.Context, bookingID, userID uuid.UUID, amount float64, currency string) (*OrderResult, error)
	// HandleWebhook returns the HTTP status the caller's handler must
	// reply with (§6 exit codes: 5xx triggers provider retry, 200/400
	// do not).
	HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) int
	// VerifyOrder is the GET /payments/verify/:orderId polling fallback
	// for clients that missed or distrust the webhook delivery.
	VerifyOrder(ctx context.Context, orderID string) (*booking.Booking, error)
}

type service struct {
	bookings       booking.Service
	bookingRepo    booking.Repository
	webhookSecret  []byte
	log            *logger.Logger
}

func NewService(bookings booking.Service, bookingRepo booking.Repository, webhookSecret string, log *logger.Logger) Service {
	return &service{
		bookings:      bookings,
		bookingRepo:   bookingRepo,
		webhookSecret: []byte(webhookSecret),
		log:           log,
	}
}

func generateOrderID() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "order_" + hex.EncodeToString(raw), nil
}

// CreateOrder implements §4.3 CreateOrder.
func (s *service) CreateOrder(ctx context.Context, bookingID, userID uuid.UUID, amount float64, currency string) (*OrderResult, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load booking", err)
	}
	if b == nil {
		return nil, apperr.ErrNotFound
	}
	if b.UserID != userID {
		return nil, apperr.New(apperr.CodeAuthRequired, "booking does not belong to caller")
	}
	if b.Status != booking.StatusPending {
		return nil, apperr.New(apperr.CodeConflict, "booking is not pending payment")
	}
	if math.Abs(amount-b.TotalAmount) > amountTolerance {
		return nil, apperr.New(apperr.CodeValidation, "amount does not match booking total")
	}

	orderID, err := generateOrderID()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to generate order id", err)
	}
	if err := s.bookingRepo.SetPaymentOrderID(ctx, bookingID, orderID); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to persist order id", err)
	}

	return &OrderResult{
		OrderID:          orderID,
		AmountMinorUnits: int64(math.Round(amount * 100)),
		Currency:         currency,
		Expiry:           b.ExpiresAt,
	}, nil
}

// HandleWebhook implements §4.3 HandleWebhook.
func (s *service) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) int {
	if !s.verifySignature(rawBody, signatureHeader) {
		s.log.LogWebhookRejected(ctx, "signature mismatch")
		return http.StatusBadRequest
	}

	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		s.log.LogWebhookRejected(ctx, "malformed payload")
		return http.StatusBadRequest
	}

	switch payload.Event {
	case EventPaymentCaptured, EventPaymentAuthorized:
		return s.handleFundsAcknowledged(ctx, payload)
	case EventPaymentFailed:
		return s.handlePaymentFailed(ctx, payload)
	default:
		// Unrecognized event types are accepted and ignored (§4.3 step 2).
		return http.StatusOK
	}
}

func (s *service) verifySignature(rawBody []byte, signatureHeader string) bool {
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	decoded, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, decoded) == 1
}

func (s *service) handleFundsAcknowledged(ctx context.Context, payload WebhookPayload) int {
	b, err := s.bookingRepo.GetByPaymentID(ctx, payload.OrderID)
	if err != nil {
		s.log.ErrorWithContext(ctx, "webhook: failed to look up booking by order id", err, nil)
		return http.StatusInternalServerError
	}
	if b == nil {
		// Nothing we recognize; accept so the provider does not retry a
		// delivery we will never be able to match.
		return http.StatusOK
	}

	expectedMinorUnits := int64(math.Round(b.TotalAmount * 100))
	if diff := expectedMinorUnits - payload.AmountMinorUnits; diff > 1 || diff < -1 {
		s.log.LogWebhookRejected(ctx, fmt.Sprintf("amount mismatch on booking %s", b.ID))
		return http.StatusOK
	}

	_, err = s.bookings.ConfirmBooking(ctx, b.ID, payload.PaymentID, "razorpay")
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			switch appErr.Code {
			case apperr.CodeConflict:
				// Already confirmed by a prior delivery of this same
				// event: idempotent re-delivery, accept (§4.3 step 4, S4).
				return http.StatusOK
			case apperr.CodeNotFound, apperr.CodeStale:
				return http.StatusOK
			}
		}
		s.log.ErrorWithContext(ctx, "webhook: confirm booking failed, requesting provider retry", err, nil)
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// VerifyOrder looks the booking up by the order id stamped into
// payment_id at CreateOrder time; once a webhook confirms the booking,
// that same field holds the gateway's real payment id instead, so a
// stale poll after confirmation simply finds nothing and the caller
// falls back to GET /bookings/:id for status.
func (s *service) VerifyOrder(ctx context.Context, orderID string) (*booking.Booking, error) {
	b, err := s.bookingRepo.GetByPaymentID(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load booking for order", err)
	}
	if b == nil {
		return nil, apperr.ErrNotFound
	}
	return b, nil
}

func (s *service) handlePaymentFailed(ctx context.Context, payload WebhookPayload) int {
	b, err := s.bookingRepo.GetByPaymentID(ctx, payload.OrderID)
	if err != nil {
		s.log.ErrorWithContext(ctx, "webhook: failed to look up booking for payment failure", err, nil)
		return http.StatusInternalServerError
	}
	if b == nil {
		return http.StatusOK
	}
	if err := s.bookingRepo.MarkPaymentFailed(ctx, b.ID); err != nil {
		s.log.ErrorWithContext(ctx, "webhook: failed to record payment failure", err, nil)
		return http.StatusInternalServerError
	}
	return http.StatusOK
}
