// Package tickets is the Ticket Generator (§4.4): it offloads QR
// payload computation and delivery fan-out from the booking
// confirmation path onto a Kafka-backed job queue, falling back to
// synchronous generation when the queue cannot accept a job.
package tickets

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusGenerated Status = "generated"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Ticket is one seat's redeemable artifact within a confirmed booking.
type Ticket struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	BookingID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"booking_id"`
	SeatID       uuid.UUID  `gorm:"type:uuid;index;not null" json:"seat_id"`
	TicketID     string     `gorm:"type:varchar(80);uniqueIndex;not null" json:"ticket_id"`
	SeatLabel    string     `gorm:"type:varchar(20);not null" json:"seat_label"`
	SeatTypeName string     `gorm:"type:varchar(100);not null" json:"seat_type_name"`
	PricePaid    float64    `gorm:"not null" json:"price_paid"`
	QRPayload    string     `gorm:"type:text;not null" json:"qr_payload"`
	Status       Status     `gorm:"type:varchar(20);not null" json:"status"`
	EmailSent    bool       `gorm:"not null;default:false" json:"email_sent"`
	SMSSent      bool       `gorm:"not null;default:false" json:"sms_sent"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
}

func (Ticket) TableName() string { return "tickets" }

// AggregateStatus summarises a booking's ticket set for GetTickets.
type AggregateStatus string

const (
	AggregatePending   AggregateStatus = "pending"
	AggregateGenerating AggregateStatus = "generating"
	AggregatePartial   AggregateStatus = "partial"
	AggregateReady     AggregateStatus = "ready"
)

// JobState is the lifecycle a dispatched job moves through, mirrored in
// the in-process job registry that backs GetJobStatus.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// SeatPayload is one seat's worth of data a generate_tickets job needs;
// built by the Booking Coordinator at dispatch time so the generator
// never has to re-derive pricing from the catalog.
type SeatPayload struct {
	SeatID       uuid.UUID `json:"seat_id"`
	SeatLabel    string    `json:"seat_label"`
	SeatTypeName string    `json:"seat_type_name"`
	PricePaid    float64   `json:"price_paid"`
}

// UserPayload carries the recipient contact details a job needs for
// its chained send_email/send_sms steps.
type UserPayload struct {
	UserID string  `json:"user_id"`
	Email  string  `json:"email"`
	Phone  *string `json:"phone,omitempty"`
}

// GenerateTicketsJob is the payload of the generate_tickets job kind.
type GenerateTicketsJob struct {
	JobID       string        `json:"job_id"`
	BookingID   uuid.UUID     `json:"booking_id"`
	BookingRef  string        `json:"booking_ref"`
	EventID     uuid.UUID     `json:"event_id"`
	Seats       []SeatPayload `json:"seats"`
	User        UserPayload   `json:"user"`
	DispatchedAt time.Time    `json:"dispatched_at"`
}

// SendEmailJob is the payload of the send_email job kind, chained after
// a generate_tickets job completes.
type SendEmailJob struct {
	JobID     string    `json:"job_id"`
	BookingID uuid.UUID `json:"booking_id"`
	Email     string    `json:"email"`
}

// SendSMSJob is the payload of the send_sms job kind, chained alongside
// send_email.
type SendSMSJob struct {
	JobID     string    `json:"job_id"`
	BookingID uuid.UUID `json:"booking_id"`
	Phone     string    `json:"phone"`
}

// jobKind discriminates the three job payloads sharing one topic.
type jobKind string

const (
	kindGenerateTickets jobKind = "generate_tickets"
	kindSendEmail       jobKind = "send_email"
	kindSendSMS         jobKind = "send_sms"
)

// envelope is the wire record published to the ticket-generation topic;
// Kind selects which payload field is populated.
type envelope struct {
	Kind      jobKind             `json:"kind"`
	Generate  *GenerateTicketsJob `json:"generate,omitempty"`
	Email     *SendEmailJob       `json:"email,omitempty"`
	SMS       *SendSMSJob         `json:"sms,omitempty"`
	Attempt   int                 `json:"attempt"`
}

// JobStatus is the response shape for GetJobStatus.
type JobStatus struct {
	State           JobState `json:"state"`
	ProgressPercent int      `json:"progress_percent"`
	Result          string   `json:"result,omitempty"`
}
