package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"mailpilot/pkg/db"
)

// InsertEventInTx marshals payload and inserts it as a pending event in tx.
func InsertEventInTx(
	ctx context.Context,
	tx db.DBTX,
	repo *Repository,
	aggregateType string,
	aggregateID string,
	routingKey string,
	payload any,
) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	return repo.InsertEvent(ctx, tx, &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       payloadJSON,
		Status:        StatusPending,
	})
}
