/*
Enqueuer - admission path of the partner queue.

Validates the operation against the registry, derives the dedup key and
persists the item. The caller gets back a request reference immediately;
processing happens later in the worker.
*/
package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Request is an inbound partner operation awaiting admission.
type Request struct {
	Partner   string
	Operation string
	HotelID   int64
	TargetID  int64
	Payload   json.RawMessage

	// RequestRef is the caller-supplied tracking reference. Generated when
	// empty. Reusing a ref with a different payload is a conflict.
	RequestRef string
}

type Enqueuer struct {
	store    Store
	registry *Registry
	now      func() time.Time
	newID    func() string
}

func NewEnqueuer(store Store, registry *Registry) *Enqueuer {
	return &Enqueuer{
		store:    store,
		registry: registry,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Enqueue admits a request: unknown operations and undecodable payloads
// are rejected up front, duplicates return the already-stored item.
//
// The returned bool is true when a new item was inserted, false for a
// deduplicated replay.
func (e *Enqueuer) Enqueue(ctx context.Context, req Request) (*Item, bool, error) {
	reg, ok := e.registry.Lookup(req.Partner, req.Operation)
	if !ok {
		return nil, false, ErrUnknownOperation
	}
	if _, err := e.registry.Decode(req.Partner, req.Operation, req.Payload); err != nil {
		return nil, false, err
	}

	opKey := OperationKey(req.Partner, req.Operation, req.HotelID, req.TargetID, req.Payload)

	if req.RequestRef != "" {
		// The same ref must always carry the same intent.
		existing, err := e.store.ItemByRequestRef(ctx, req.RequestRef)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if existing.OperationKey != opKey {
				return nil, false, ErrRequestRefConflict
			}
			return existing, false, nil
		}
	}

	now := e.now().UTC()
	item := &Item{
		QueueID:      e.newID(),
		RequestRef:   req.RequestRef,
		Partner:      req.Partner,
		Operation:    req.Operation,
		HotelID:      req.HotelID,
		TargetID:     req.TargetID,
		PayloadType:  reg.PayloadType,
		Payload:      req.Payload,
		OperationKey: opKey,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if item.RequestRef == "" {
		item.RequestRef = e.newID()
	}

	stored, inserted, err := e.store.InsertItem(ctx, item)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		metricEnqueued.WithLabelValues(item.Partner, "inserted").Inc()
	} else {
		metricEnqueued.WithLabelValues(item.Partner, "deduplicated").Inc()
		log.Printf("[Queue] deduplicated %s/%s target %d onto %s", req.Partner, req.Operation, req.TargetID, stored.QueueID)
	}
	return stored, inserted, nil
}
