package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const UnknownReason = "unknown reason"

type TransactionEvent struct {
	ID               int64           `json:"id"`
	AccountNumber    string          `json:"accountNumber"`
	Amount           decimal.Decimal `json:"amount"`
	Timestamp        time.Time       `json:"timestamp"`
	Suspicious       bool            `json:"suspicious"`
	SuspiciousReason string          `json:"suspiciousReason,omitempty"`
}

// Reason returns the flagging reason, falling back to UnknownReason for a
// suspicious event the producer sent without one.
func (t TransactionEvent) Reason() string {
	r := strings.TrimSpace(t.SuspiciousReason)
	if r == "" {
		if t.Suspicious {
			return UnknownReason
		}
		return ""
	}
	return r
}

type CurrentAlert struct {
	Event     TransactionEvent `json:"event"`
	SetAt     time.Time        `json:"set_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func (a CurrentAlert) Remaining(now time.Time) time.Duration {
	if now.After(a.ExpiresAt) {
		return 0
	}
	return a.ExpiresAt.Sub(now)
}

// Title and Message render the alert bar. Only suspicious events ever become
// the current alert.
func (a CurrentAlert) Title() string {
	return "Suspicious Transaction"
}

func (a CurrentAlert) Message() string {
	return "Reason: " + a.Event.Reason()
}

type NewTransaction struct {
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
}

func (t NewTransaction) Validate() error {
	if strings.TrimSpace(t.AccountNumber) == "" {
		return &ValidationError{Field: "accountNumber", Message: "Account Number is required"}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "Amount must be greater than zero"}
	}
	return nil
}

type Role struct {
	Authority string `json:"authority"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Roles    []Role `json:"roles"`
	Enabled  bool   `json:"enabled"`
}

func (u User) HasRole(authority string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r.Authority, authority) {
			return true
		}
	}
	return false
}
