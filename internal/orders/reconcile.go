package orders

import (
	"strings"

	"github.com/optionsdesk/terminal/internal/adapters/outbound/broker_http"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

// Reconciler updates locally tracked orders to match the periodically polled
// broker order book. Broker statuses map to local lifecycle states; a
// broker-acknowledged order still outstanding is CONFIRMED locally, since
// PENDING is reserved for intents not yet sent.
type Reconciler struct {
	registry *Registry
}

func NewReconciler(registry *Registry) *Reconciler {
	return &Reconciler{registry: registry}
}

// targetState maps a broker status to the local state it implies. Unmapped
// statuses are skipped rather than guessed at.
func targetState(brokerStatus string) (State, bool) {
	switch strings.ToUpper(strings.TrimSpace(brokerStatus)) {
	case "COMPLETED":
		return StateFilled, true
	case "CANCELLED":
		return StateCancelled, true
	case "PENDING":
		return StateConfirmed, true
	default:
		return "", false
	}
}

// Reconcile applies one polled snapshot. A transition is attempted only when
// the cached local state differs from the computed target, so re-polling the
// same snapshot produces zero further transitions or notifications. Returns
// the number of transitions applied.
func (rc *Reconciler) Reconcile(snapshot []broker_http.BrokerOrder) int {
	applied := 0
	for _, bo := range snapshot {
		target, ok := targetState(bo.Status)
		if !ok {
			continue
		}

		local, found := rc.registry.FindByBrokerNumber(bo.OrderNumber)
		if found && local.State == target {
			continue
		}

		if rc.registry.UpdateStateByBrokerNumber(bo.OrderNumber, target, Update{
			BrokerOrderID:   bo.OrderNumber,
			Exchange:        bo.Exchange,
			FilledQuantity:  bo.FilledQuantity,
			PendingQuantity: bo.PendingQuantity,
		}) {
			applied++
			telemetry.Metrics.ReconcileUpdates.Inc()
		}
	}
	return applied
}
