package dagsched

import (
	"github.com/lightflow/lightflow/internal/queue"
	"github.com/lightflow/lightflow/internal/signalbus"
)

// QueueAdapter satisfies JobSubmitter for a real *queue.Queue.
type QueueAdapter struct{ *queue.Queue }

// BusAdapter satisfies Bus for a real *signalbus.Bus.
type BusAdapter struct{ *signalbus.Bus }

// Subscribe adapts signalbus.Bus.Subscribe's concrete
// *signalbus.Subscription return to the Subscription interface.
func (a BusAdapter) Subscribe(runID string) (Subscription, error) {
	return a.Bus.Subscribe(runID)
}
