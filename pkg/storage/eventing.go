package storage

import (
	"context"
	"strconv"

	"github.com/ledgerproto/ledgerd/pkg/events"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

// EventingStore wraps a Store and publishes EventContractDeployed the
// first time a given contract address is stored, so the (out-of-scope)
// REST façade's new-contracts SSE stream has something to subscribe to.
// A repeat deployment of an already-stored address stays a silent no-op
// per PutContract's own idempotence and does not republish.
type EventingStore struct {
	Store
	broker *events.Broker
}

// NewEventingStore wraps store so every successful first-time PutContract
// also publishes to broker.
func NewEventingStore(store Store, broker *events.Broker) *EventingStore {
	return &EventingStore{Store: store, broker: broker}
}

// PutContract delegates to the wrapped Store, then publishes
// EventContractDeployed if this call is what actually introduced the
// contract (as opposed to an idempotent repeat of one already stored).
func (e *EventingStore) PutContract(ctx context.Context, contract types.Contract, signature []byte) error {
	addr := contract.Address()
	_, existed, err := e.Store.GetContract(ctx, addr)
	if err != nil {
		return err
	}

	if err := e.Store.PutContract(ctx, contract, signature); err != nil {
		return err
	}

	if !existed {
		e.broker.Publish(&events.Event{
			Type:    events.EventContractDeployed,
			Message: "contract deployed",
			Metadata: map[string]string{
				"contract_addr": addr.String(),
				"predicates":    strconv.Itoa(len(contract.Predicates)),
			},
		})
	}
	return nil
}
