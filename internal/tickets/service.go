package tickets

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"evently-core/internal/booking"
	"evently-core/internal/catalog"
	"evently-core/internal/seatlock"
	"evently-core/internal/shared/apperr"
	"evently-core/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Publisher decouples the generator from the realtime broadcaster's
// concrete package, the same way booking.Publisher and
// seatlock.Publisher do for their components.
type Publisher interface {
	PublishTicketsReady(ctx context.Context, bookingID uuid.UUID, ticketCount int)
}

// Service implements the Ticket Generator's public contract: it is the
// Booking Coordinator's TicketDispatcher, the consumer's job Handler,
// and the HTTP layer's status/listing source, all at once.
type Service interface {
	booking.TicketDispatcher
	Handler

	GetJobStatus(jobID string) (JobStatus, bool)
	GetTickets(ctx context.Context, bookingID uuid.UUID) ([]Ticket, AggregateStatus, error)
}

type service struct {
	db        *gorm.DB
	repo      Repository
	bookings  booking.Repository
	seats     seatlock.Repository
	catalog   catalog.Repository
	producer  Producer
	registry  *jobRegistry
	email     EmailProvider
	sms       SMSProvider
	publisher Publisher
	log       *logger.Logger
}

func NewService(
	db *gorm.DB,
	repo Repository,
	bookings booking.Repository,
	seats seatlock.Repository,
	catalogRepo catalog.Repository,
	producer Producer,
	email EmailProvider,
	sms SMSProvider,
	publisher Publisher,
	log *logger.Logger,
) Service {
	return &service{
		db:        db,
		repo:      repo,
		bookings:  bookings,
		seats:     seats,
		catalog:   catalogRepo,
		producer:  producer,
		registry:  newJobRegistry(),
		email:     email,
		sms:       sms,
		publisher: publisher,
		log:       log,
	}
}

// Dispatch implements booking.TicketDispatcher. It assembles the job
// payload from already-committed booking state and hands it to the
// queue; if the queue cannot accept it, it runs generation inline
// (§4.4 "Synchronous fallback") so a client never sees confirmation
// succeed without tickets existing somewhere.
func (s *service) Dispatch(ctx context.Context, bookingID uuid.UUID) error {
	job, err := s.buildGenerateJob(ctx, bookingID)
	if err != nil {
		return err
	}

	s.registry.setWaiting(job.JobID)

	env := envelope{Kind: kindGenerateTickets, Generate: job}
	if err := s.producer.Dispatch(ctx, env); err != nil {
		s.log.ErrorWithContext(ctx, "ticket generator: queue unavailable, generating synchronously", err, map[string]interface{}{
			"booking_id": bookingID.String(),
		})
		return s.HandleGenerateTickets(ctx, *job)
	}
	return nil
}

func (s *service) buildGenerateJob(ctx context.Context, bookingID uuid.UUID) (*GenerateTicketsJob, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load booking for ticket generation", err)
	}
	if b == nil {
		return nil, apperr.ErrNotFound
	}

	bookingSeats, err := s.bookings.ListSeatsForBooking(ctx, bookingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load booking seats", err)
	}

	seatIDs := make([]uuid.UUID, len(bookingSeats))
	for i, bs := range bookingSeats {
		seatIDs[i] = bs.SeatID
	}
	seatsByID, err := s.seats.BatchGetByIDs(ctx, seatIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load seats for ticket generation", err)
	}

	seatTypeNames := make(map[uuid.UUID]string)
	payloads := make([]SeatPayload, 0, len(bookingSeats))
	for _, bs := range bookingSeats {
		seat, ok := seatsByID[bs.SeatID]
		if !ok {
			continue
		}
		name, ok := seatTypeNames[seat.SeatTypeID]
		if !ok {
			st, err := s.catalog.GetSeatType(ctx, seat.SeatTypeID)
			if err != nil {
				return nil, apperr.Wrap(apperr.CodeInternal, "failed to load seat type for ticket generation", err)
			}
			name = st.Name
			seatTypeNames[seat.SeatTypeID] = name
		}
		payloads = append(payloads, SeatPayload{
			SeatID:       seat.ID,
			SeatLabel:    seat.SeatLabel,
			SeatTypeName: name,
			PricePaid:    bs.PricePaid,
		})
	}

	email, phone, err := s.repo.GetUserContact(ctx, b.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "failed to load recipient contact", err)
	}

	return &GenerateTicketsJob{
		JobID:        uuid.NewString(),
		BookingID:    b.ID,
		BookingRef:   b.Reference,
		EventID:      b.EventID,
		Seats:        payloads,
		User:         UserPayload{UserID: b.UserID.String(), Email: email, Phone: phone},
		DispatchedAt: time.Now(),
	}, nil
}

// HandleGenerateTickets implements the Handler side of generate_tickets
// (§4.4): one row per seat, processed sequentially inside a single
// transaction so the booking's ticket set is all-or-nothing.
func (s *service) HandleGenerateTickets(ctx context.Context, job GenerateTicketsJob) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, seat := range job.Seats {
			ticketID := fmt.Sprintf("TKT-%s-%s", job.BookingRef, seat.SeatLabel)
			row := Ticket{
				BookingID:    job.BookingID,
				SeatID:       seat.SeatID,
				TicketID:     ticketID,
				SeatLabel:    seat.SeatLabel,
				SeatTypeName: seat.SeatTypeName,
				PricePaid:    seat.PricePaid,
				QRPayload:    qrPayload(ticketID, seat.SeatLabel, seat.PricePaid),
				Status:       StatusGenerated,
				GeneratedAt:  &now,
			}
			if err := s.repo.UpsertGenerated(tx, row); err != nil {
				return fmt.Errorf("failed to persist ticket %s: %w", ticketID, err)
			}
			s.registry.setProgress(job.JobID, (i+1)*100/len(job.Seats))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.publisher != nil {
		s.publisher.PublishTicketsReady(ctx, job.BookingID, len(job.Seats))
	}
	s.chainDelivery(ctx, job)
	return nil
}

// chainDelivery dispatches send_email/send_sms after generation commits;
// a short delay lets the generation transaction's visibility catch up
// before the delivery jobs query the tickets table (§4.4 step 1).
func (s *service) chainDelivery(ctx context.Context, job GenerateTicketsJob) {
	const chainDelay = 2 * time.Second

	if s.email != nil && job.User.Email != "" {
		emailJob := &SendEmailJob{JobID: uuid.NewString(), BookingID: job.BookingID, Email: job.User.Email}
		s.registry.setWaiting(emailJob.JobID)
		time.AfterFunc(chainDelay, func() {
			env := envelope{Kind: kindSendEmail, Email: emailJob}
			if err := s.producer.Dispatch(context.Background(), env); err != nil {
				s.log.ErrorWithContext(context.Background(), "ticket generator: email job dispatch failed, sending synchronously", err, nil)
				_ = s.HandleSendEmail(context.Background(), *emailJob)
			}
		})
	}

	if s.sms != nil && job.User.Phone != nil && *job.User.Phone != "" {
		smsJob := &SendSMSJob{JobID: uuid.NewString(), BookingID: job.BookingID, Phone: *job.User.Phone}
		s.registry.setWaiting(smsJob.JobID)
		time.AfterFunc(chainDelay, func() {
			env := envelope{Kind: kindSendSMS, SMS: smsJob}
			if err := s.producer.Dispatch(context.Background(), env); err != nil {
				s.log.ErrorWithContext(context.Background(), "ticket generator: sms job dispatch failed, sending synchronously", err, nil)
				_ = s.HandleSendSMS(context.Background(), *smsJob)
			}
		})
	}
}

func (s *service) HandleSendEmail(ctx context.Context, job SendEmailJob) error {
	if s.email == nil {
		return nil
	}
	subject := "Your tickets are ready"
	body := fmt.Sprintf("Your tickets for booking %s are ready. Show the QR code at entry.", job.BookingID)
	if err := s.email.Send(ctx, job.Email, subject, body); err != nil {
		return err
	}
	return s.repo.MarkEmailSent(ctx, job.BookingID)
}

func (s *service) HandleSendSMS(ctx context.Context, job SendSMSJob) error {
	if s.sms == nil {
		return nil
	}
	message := fmt.Sprintf("Your tickets for booking %s are ready.", job.BookingID)
	if err := s.sms.Send(ctx, job.Phone, message); err != nil {
		return err
	}
	return s.repo.MarkSMSSent(ctx, job.BookingID)
}

func (s *service) GetJobStatus(jobID string) (JobStatus, bool) {
	return s.registry.get(jobID)
}

func (s *service) GetTickets(ctx context.Context, bookingID uuid.UUID) ([]Ticket, AggregateStatus, error) {
	rows, err := s.repo.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.CodeInternal, "failed to load tickets", err)
	}
	return rows, aggregateStatus(rows), nil
}

func aggregateStatus(rows []Ticket) AggregateStatus {
	if len(rows) == 0 {
		return AggregatePending
	}
	allGenerated, anyFailed, anyPending := true, false, false
	for _, t := range rows {
		switch t.Status {
		case StatusFailed:
			anyFailed = true
			allGenerated = false
		case StatusPending:
			anyPending = true
			allGenerated = false
		}
	}
	if anyFailed {
		return AggregatePartial
	}
	if allGenerated {
		return AggregateReady
	}
	if anyPending {
		return AggregateGenerating
	}
	return AggregateGenerating
}

// qrPayload is a deterministic, verifiable stand-in for a rendered QR
// image: base64 of the fields a scanner would need to encode.
func qrPayload(ticketID, seatLabel string, price float64) string {
	raw := fmt.Sprintf("%s|%s|%.2f", ticketID, seatLabel, price)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}
