// Package messaging publishes usage engine events to external consumers.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meterline/backend/internal/domain/account"
)

// EnvelopeVersion is bumped when a payload changes incompatibly
const EnvelopeVersion = 1

// Envelope wraps every published event
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Version    int             `json:"version"`
	AccountID  uuid.UUID       `json:"account_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func newEnvelope(eventType string, accountID uuid.UUID, occurredAt time.Time, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:         uuid.New(),
		Type:       eventType,
		Version:    EnvelopeVersion,
		AccountID:  accountID,
		OccurredAt: occurredAt.UTC(),
		Payload:    data,
	}, nil
}

func quotaExceededEnvelope(event account.QuotaExceededEvent) (*Envelope, error) {
	return newEnvelope(account.EventTypeQuotaExceeded, event.AccountID, event.OccurredAt, event)
}

func cycleResetEnvelope(event account.CycleResetEvent) (*Envelope, error) {
	return newEnvelope(account.EventTypeCycleReset, event.AccountID, event.OccurredAt, event)
}
