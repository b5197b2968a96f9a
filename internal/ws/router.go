package ws

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/model"
)

// InteractionRouter sends viewer input back to the capture device.
type InteractionRouter struct {
	registry *Registry
	metrics  *Metrics
}

// NewInteractionRouter creates an InteractionRouter over registry.
func NewInteractionRouter(registry *Registry, metrics *Metrics) *InteractionRouter {
	return &InteractionRouter{registry: registry, metrics: metrics}
}

// Route queues event, unmodified, on the capture connection of from's
// identity. Without an open capture the event is dropped, NoRoute is
// incremented and model.ErrNoRoute returned for the caller's bookkeeping;
// the sender is never told.
func (r *InteractionRouter) Route(from *Connection, event []byte) error {
	capture := r.registry.Resolve(from.identity).Capture
	if capture == nil || capture == from || !capture.Open() {
		r.metrics.noRoute.Add(1)
		return model.ErrNoRoute
	}

	if err := capture.TrySend(event); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			r.metrics.noRoute.Add(1)
			return model.ErrNoRoute
		}
		r.metrics.interactionsDropped.Add(1)
		log.Warn().Str("module", "ws.router").
			Str("user", string(from.identity)).
			Str("capture", string(capture.id)).
			Msg("capture queue full, interaction dropped")
		return err
	}

	r.metrics.interactionsRouted.Add(1)
	return nil
}
