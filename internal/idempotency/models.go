// Package idempotency deduplicates mutating requests that carry a
// client-supplied key (§4.9): booking cancellation is its call site,
// since a cancel can be retried by an upstream caller after a timeout
// with no way for the caller to know whether the first attempt already
// landed. Payment webhook redelivery does not use this store; it is
// absorbed by ConfirmBooking's own already-confirmed check.
package idempotency

import "time"

// Status tracks where a keyed operation is in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Key is the relational row backing one deduplicated operation.
type Key struct {
	Key              string `gorm:"type:varchar(255);primaryKey" json:"key"`
	OperationType    string `gorm:"type:varchar(100);not null;index:idx_idem_op_resource" json:"operation_type"`
	ResourceID       string `gorm:"type:varchar(255);index:idx_idem_op_resource" json:"resource_id"`
	UserID           string `gorm:"type:uuid;index" json:"user_id"`
	Status           Status `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	ResponseSnapshot []byte `gorm:"type:jsonb" json:"response_snapshot,omitempty"`
	ExpiresAt        time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Key) TableName() string { return "idempotency_keys" }
