// Package tokengate implements the O(1) "is this token revoked?" check
// consulted at every privileged boundary (§4.8), plus the refresh-token
// mirror used for session continuity. Token issuance is out of scope
// (§1) — this package only consumes and verifies tokens minted elsewhere.
package tokengate

import "time"

// BlacklistedToken is the relational mirror of a revoked access token.
type BlacklistedToken struct {
	Token     string    `gorm:"type:varchar(512);primaryKey" json:"token"`
	UserID    string    `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (BlacklistedToken) TableName() string { return "blacklisted_tokens" }

// RefreshToken is the relational mirror of an issued refresh token.
type RefreshToken struct {
	Token     string    `gorm:"type:varchar(512);primaryKey" json:"token"`
	UserID    string    `gorm:"type:uuid;index;not null" json:"user_id"`
	Revoked   bool      `gorm:"not null;default:false" json:"revoked"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }

// RefreshInfo is the read-path view returned to the identity boundary.
type RefreshInfo struct {
	UserID    string
	Revoked   bool
	ExpiresAt time.Time
}
