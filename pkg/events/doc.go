// Package events is the internal pub/sub backbone that a future REST
// façade's server-sent event streams (new-contracts, new-blocks) would
// consume. It is intentionally decoupled from any transport: a Broker has
// no subscribers by default, and publishing with none attached is a
// no-op cost.
//
//	broker := events.NewBroker()
//	broker.Start()
//	defer broker.Stop()
//
//	sub := broker.Subscribe()
//	defer broker.Unsubscribe(sub)
//	for ev := range sub {
//		switch ev.Type {
//		case events.EventBlockCommitted:
//			// stream to new-blocks SSE clients
//		case events.EventContractDeployed:
//			// stream to new-contracts SSE clients
//		}
//	}
package events
