// Package notify delivers committed order events to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/xtrntr/escrow/internal/models"
)

// Publisher receives one event per committed order transition
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Multi fans an event out to every publisher. All publishers are tried even if one fails.
type Multi []Publisher

// Publish sends event to each publisher and joins their errors
func (m Multi) Publish(ctx context.Context, event models.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// encode returns the message key and JSON payload for event.
// Keying by order id keeps every transition of an order on one partition.
func encode(event models.Event) ([]byte, []byte, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return []byte(strconv.FormatUint(event.OrderID, 10)), value, nil
}
