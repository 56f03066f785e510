package syncqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/fieldsync/pkg/db/models"
)

const envelopeVersion = 1

// PayloadEnvelope is the stable payload structure stored in sync_operations.
type PayloadEnvelope struct {
	Version        int             `json:"version"`
	OperationID    string          `json:"operationId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	UserID         string          `json:"userId"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Data           json.RawMessage `json:"data"`
}

// DecodeEnvelope parses the stored payload of op.
func DecodeEnvelope(op models.SyncOperation) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal([]byte(op.Payload), &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope for %s: %w", op.ID, err)
	}
	if envelope.Version != envelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("unsupported envelope version %d for %s", envelope.Version, op.ID)
	}
	return envelope, nil
}

// DecodeData unmarshals the envelope data into out.
func (e PayloadEnvelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %s has no data", e.OperationID)
	}
	return json.Unmarshal(e.Data, out)
}
