package ws

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// RelayResult reports what happened to one frame.
type RelayResult struct {
	Delivered int
	Dropped   int
}

// FrameRelay fans capture frames out to the viewers of the same identity.
type FrameRelay struct {
	registry *Registry
	metrics  *Metrics
}

// NewFrameRelay creates a FrameRelay over registry.
func NewFrameRelay(registry *Registry, metrics *Metrics) *FrameRelay {
	return &FrameRelay{registry: registry, metrics: metrics}
}

// Relay queues frame, unmodified, on every open viewer of from's identity.
// A viewer whose queue is full loses this frame and nothing else; Relay
// never waits on a viewer.
func (f *FrameRelay) Relay(from *Connection, frame []byte) RelayResult {
	var res RelayResult
	snap := f.registry.Resolve(from.identity)

	for _, v := range snap.Viewers {
		if v == from || !v.Open() {
			continue
		}
		err := v.TrySend(frame)
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrBackpressure):
			res.Dropped++
			log.Debug().Str("module", "ws.relay").
				Str("user", string(from.identity)).
				Str("viewer", string(v.id)).
				Uint64("dropped", v.Dropped()).
				Msg("viewer queue full, frame dropped")
		}
	}

	f.metrics.framesRelayed.Add(uint64(res.Delivered))
	f.metrics.framesDropped.Add(uint64(res.Dropped))
	return res
}
