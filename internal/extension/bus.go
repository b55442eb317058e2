package extension

import (
	"fmt"

	"github.com/alal76/inkpad/internal/log"
	"github.com/alal76/inkpad/pkg/extapi"
)

// Bus delivers typed events to operative modules. Delivery is one
// deterministic, non-concurrent pass in registry (name) order; a
// fault in one module's handler is logged and does not halt delivery
// to the rest. Disabled modules are skipped.
type Bus struct {
	registry *Registry
	logger   *log.Logger
}

// NewBus creates a bus over the given registry.
func NewBus(registry *Registry, logger *log.Logger) *Bus {
	return &Bus{
		registry: registry,
		logger:   logger.WithComponent("bus"),
	}
}

// Broadcast delivers the event to every operative module.
func (b *Bus) Broadcast(kind extapi.EventKind, data any) {
	for _, d := range b.registry.Descriptors() {
		b.deliver(d, newEnvelope(kind, data, false))
	}
}

// BroadcastCancellable delivers the event in registry order, stopping
// at the first module that cancels. Returns false when cancelled,
// true after a full uncancelled pass.
func (b *Bus) BroadcastCancellable(kind extapi.EventKind, data any) bool {
	for _, d := range b.registry.Descriptors() {
		env := newEnvelope(kind, data, true)
		if !b.deliver(d, env) {
			continue
		}
		if env.Cancelled() {
			b.logger.Debug("module %s cancelled %s", d.Name(), kind)
			return false
		}
	}
	return true
}

// Notify delivers the event to one named module.
func (b *Bus) Notify(name string, kind extapi.EventKind, data any) error {
	d, ok := b.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	b.deliver(d, newEnvelope(kind, data, kind.Cancellable()))
	return nil
}

// deliver invokes one module's notification handler behind the fault
// boundary. Returns false when the module was skipped.
func (b *Bus) deliver(d *Descriptor, env *extapi.Envelope) bool {
	if !d.State().Operative() {
		return false
	}
	exports := d.exports()
	if exports == nil {
		return false
	}
	if err := guard(d.Name(), "on-notify", func() { exports.OnNotify(env) }); err != nil {
		b.logger.Warn("%v", err)
	}
	return true
}

// newEnvelope builds the wire envelope for one delivery. Each module
// gets a fresh envelope so one recipient's cancel flag never leaks
// into another's view.
func newEnvelope(kind extapi.EventKind, data any, cancellable bool) *extapi.Envelope {
	return &extapi.Envelope{
		Kind:        kind,
		Data:        data,
		Size:        payloadSize(data),
		Cancellable: cancellable,
	}
}

// payloadSize reports the payload's nominal byte size, kept for
// parity with the wire contract.
func payloadSize(data any) int {
	switch p := data.(type) {
	case extapi.FileEvent:
		return len(p.Path)
	case extapi.LanguageEvent:
		return len(p.Language)
	case extapi.BufferEvent:
		return 8
	case extapi.EditorMessage:
		return 24
	default:
		return 0
	}
}
