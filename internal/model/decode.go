package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type wireEvent struct {
	ID               *int64           `json:"id"`
	AccountNumber    string           `json:"accountNumber"`
	Amount           *decimal.Decimal `json:"amount"`
	Timestamp        json.RawMessage  `json:"timestamp"`
	Suspicious       bool             `json:"suspicious"`
	SuspiciousReason *string          `json:"suspiciousReason"`
}

// DecodeTransactionEvent turns one frame payload into a TransactionEvent. Any
// failure is returned as a *DecodeError carrying the raw payload.
func DecodeTransactionEvent(data []byte, now time.Time) (TransactionEvent, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 || trim[0] != '{' {
		return TransactionEvent{}, &DecodeError{Raw: string(data), Err: errors.New("payload is not a JSON object")}
	}
	var w wireEvent
	if err := json.Unmarshal(trim, &w); err != nil {
		return TransactionEvent{}, &DecodeError{Raw: string(data), Err: err}
	}
	if w.ID == nil {
		return TransactionEvent{}, &DecodeError{Raw: string(data), Err: errors.New("missing id")}
	}
	if w.Amount == nil {
		return TransactionEvent{}, &DecodeError{Raw: string(data), Err: errors.New("missing amount")}
	}
	if w.Amount.IsNegative() {
		return TransactionEvent{}, &DecodeError{Raw: string(data), Err: errors.New("negative amount")}
	}
	ts, err := decodeTimestamp(w.Timestamp, now)
	if err != nil {
		return TransactionEvent{}, &DecodeError{Raw: string(data), Err: err}
	}
	ev := TransactionEvent{
		ID:            *w.ID,
		AccountNumber: strings.TrimSpace(w.AccountNumber),
		Amount:        *w.Amount,
		Timestamp:     ts,
		Suspicious:    w.Suspicious,
	}
	if w.SuspiciousReason != nil {
		ev.SuspiciousReason = strings.TrimSpace(*w.SuspiciousReason)
	}
	return ev, nil
}

func decodeTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	trim := bytes.TrimSpace(raw)
	if len(trim) == 0 || bytes.Equal(trim, []byte("null")) {
		return now.UTC(), nil
	}
	if trim[0] == '"' {
		var s string
		if err := json.Unmarshal(trim, &s); err != nil {
			return time.Time{}, err
		}
		return ParseTimestamp(s, time.UTC)
	}
	return ParseTimestamp(string(trim), time.UTC)
}

// UnmarshalJSON applies the same tolerant decoding to REST responses.
func (t *TransactionEvent) UnmarshalJSON(data []byte) error {
	ev, err := DecodeTransactionEvent(data, time.Now())
	if err != nil {
		return err
	}
	*t = ev
	return nil
}
