// Package eventbus defines the port interface for publishing committed
// verdicts and incidents to downstream consumers (ledger writer, audit
// sinks). Publishing is best-effort and happens only after the decision
// has been durably committed.
package eventbus

import "context"

// Publisher is the port interface for emitting decision events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
