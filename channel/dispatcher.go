package channel

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/contractdesk/realtime/internal/metrics"
)

// Dispatcher fans decoded events out to matching subscribers. Delivery is
// synchronous and in decode order; a panicking subscriber never prevents
// delivery to the others.
type Dispatcher struct {
	log *logrus.Logger
	reg *Registry

	// gen is the current connection generation. Events stamped with an
	// older generation are straggling frames from a superseded connection
	// and are dropped, so they can never be delivered after the new
	// connection's events have started flowing.
	gen atomic.Uint64
}

// NewDispatcher creates a Dispatcher delivering through reg.
func NewDispatcher(log *logrus.Logger, reg *Registry) *Dispatcher {
	return &Dispatcher{log: log, reg: reg}
}

// SetGeneration marks gen as the current connection generation.
func (d *Dispatcher) SetGeneration(gen uint64) { d.gen.Store(gen) }

// Generation returns the current connection generation.
func (d *Dispatcher) Generation() uint64 { return d.gen.Load() }

// Dispatch delivers evt to all subscribers of its type plus wildcard
// subscribers. Events with a non-zero generation other than the current one
// are discarded; locally synthesized events (generation zero) always pass.
func (d *Dispatcher) Dispatch(evt Event) {
	if evt.Generation != 0 && evt.Generation != d.gen.Load() {
		metrics.EventsDropped.WithLabelValues("stale").Inc()
		d.log.WithFields(logrus.Fields{
			"type":       evt.Type,
			"generation": evt.Generation,
			"current":    d.gen.Load(),
		}).Debug("dropping stale-generation event")
		return
	}

	subs := d.reg.handlers(evt.Type)
	for _, s := range subs {
		d.deliver(s, evt)
	}
	metrics.EventsDispatched.WithLabelValues(string(evt.Type)).Inc()
}

// deliver invokes one subscriber, isolating panics so a broken callback
// cannot take down the channel or starve its peers.
func (d *Dispatcher) deliver(s subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.Inc()
			d.log.WithFields(logrus.Fields{
				"type":  evt.Type,
				"panic": r,
			}).Error("subscriber panicked")
		}
	}()

	s.fn(evt)
}
