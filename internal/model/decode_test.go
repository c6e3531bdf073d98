package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeTransactionEvent_LocalDateTime(t *testing.T) {
	raw := `{"id":42,"accountNumber":"ACC-1","amount":15000.5,"timestamp":"2025-05-01T10:11:12.345","suspicious":true,"suspiciousReason":"Large transaction (>10000); "}`

	ev, err := DecodeTransactionEvent([]byte(raw), fixedNow)
	require.NoError(t, err)

	assert.Equal(t, int64(42), ev.ID)
	assert.Equal(t, "ACC-1", ev.AccountNumber)
	assert.True(t, ev.Amount.Equal(decimal.RequireFromString("15000.5")))
	assert.Equal(t, time.Date(2025, 5, 1, 10, 11, 12, 345000000, time.UTC), ev.Timestamp)
	assert.True(t, ev.Suspicious)
	assert.Equal(t, "Large transaction (>10000);", ev.Reason())
}

func TestDecodeTransactionEvent_RFC3339AndStringAmount(t *testing.T) {
	raw := `{"id":7,"accountNumber":"ACC-2","amount":"99.99","timestamp":"2025-05-01T10:11:12+02:00","suspicious":false}`

	ev, err := DecodeTransactionEvent([]byte(raw), fixedNow)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 5, 1, 8, 11, 12, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "99.99", ev.Amount.String())
	assert.Empty(t, ev.Reason())
}

func TestDecodeTransactionEvent_EpochMillis(t *testing.T) {
	raw := `{"id":1,"accountNumber":"A","amount":1,"timestamp":1746094272000}`

	ev, err := DecodeTransactionEvent([]byte(raw), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1746094272000).UTC(), ev.Timestamp)
}

func TestDecodeTransactionEvent_MissingTimestampUsesNow(t *testing.T) {
	ev, err := DecodeTransactionEvent([]byte(`{"id":1,"accountNumber":"A","amount":1}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, ev.Timestamp)
}

func TestDecodeTransactionEvent_SuspiciousWithoutReason(t *testing.T) {
	ev, err := DecodeTransactionEvent([]byte(`{"id":3,"accountNumber":"A","amount":10000,"suspicious":true}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, UnknownReason, ev.Reason())
}

func TestDecodeTransactionEvent_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `hello`,
		"keepalive":       ``,
		"array":           `[1,2]`,
		"truncated":       `{"id":1,"amount":`,
		"missing id":      `{"accountNumber":"A","amount":1}`,
		"missing amount":  `{"id":1,"accountNumber":"A"}`,
		"negative amount": `{"id":1,"accountNumber":"A","amount":-5}`,
		"bad timestamp":   `{"id":1,"accountNumber":"A","amount":1,"timestamp":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTransactionEvent([]byte(raw), fixedNow)
			require.Error(t, err)
			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, raw, de.Raw)
		})
	}
}

func TestTransactionEvent_UnmarshalJSONList(t *testing.T) {
	raw := `[{"id":1,"accountNumber":"A","amount":5,"timestamp":"2025-05-01T10:00:00"},{"id":2,"accountNumber":"B","amount":"7.25","suspicious":true,"suspiciousReason":"x"}]`
	var out []TransactionEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	require.Len(t, out, 2)
	assert.Equal(t, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), out[0].Timestamp)
	assert.Equal(t, "x", out[1].Reason())
}
