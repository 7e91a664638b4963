package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/otgw-core/internal/opentherm"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches master and slave values per data id.
//
// Mutations come from a single goroutine (the engine); reads are safe from
// any goroutine and return copies.
type Registry struct {
	catalog *opentherm.Catalog
	items   map[uint8]*DataItem
	mu      sync.RWMutex // Protects items
	logger  Logger
	now     func() time.Time
}

// New creates an empty registry backed by a catalog.
// A nil catalog selects opentherm.DefaultCatalog.
func New(catalog *opentherm.Catalog) *Registry {
	if catalog == nil {
		catalog = opentherm.DefaultCatalog()
	}
	return &Registry{
		catalog: catalog,
		items:   make(map[uint8]*DataItem),
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock replaces the time source used for UpdatedAt.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Catalog returns the catalog the registry types values with.
func (r *Registry) Catalog() *opentherm.Catalog {
	return r.catalog
}

// Apply updates the registry from a frame observed on the link.
//
// Update rules:
//   - READ-ACK from the boiler sets the slave slot
//   - WRITE-ACK from the boiler sets the master slot to the accepted value
//   - READ-DATA for id 0 from the master side sets the master slot, since
//     the status request carries the master flags
//   - DATA-INVALID and UNKNOWN-DATAID mark the item's slot invalid and keep
//     the last value
//
// Frames the gateway answered on the boiler's behalf (source A) and all
// other master frames leave the registry untouched.
//
// Parameters:
//   - msg: Decoded frame
//   - src: Line source reported by the gateway
//
// Returns:
//   - ChangeEvent: The slot change
//   - bool: false when nothing changed
func (r *Registry) Apply(msg opentherm.Message, src opentherm.Source) (ChangeEvent, bool) {
	switch {
	case msg.Type == opentherm.ReadData && msg.ID == 0 && (src == opentherm.SourceThermostat || src == opentherm.SourceRequest):
		return r.set(msg.ID, opentherm.SlotMaster, msg.Value, true, src)
	case !msg.Type.FromSlave() || src == opentherm.SourceAnswer:
		return ChangeEvent{}, false
	case msg.Type == opentherm.ReadAck:
		return r.set(msg.ID, opentherm.SlotSlave, msg.Value, true, src)
	case msg.Type == opentherm.WriteAck:
		return r.set(msg.ID, opentherm.SlotMaster, msg.Value, true, src)
	default:
		r.logger.Debug("data item reported invalid",
			"item_id", msg.ID,
			"type", msg.Type.String(),
		)
		return r.invalidate(msg.ID, r.slotFor(msg.ID), src, true)
	}
}

// Accept records a value the gateway confirmed for a command, in the master slot.
func (r *Registry) Accept(id uint8, value uint16) (ChangeEvent, bool) {
	return r.set(id, opentherm.SlotMaster, value, true, opentherm.SourceRequest)
}

// MarkInvalid marks every valid slot of an item invalid, keeping the values.
// It is called when a transaction for the item exhausted its retries.
func (r *Registry) MarkInvalid(id uint8) []ChangeEvent {
	var events []ChangeEvent
	for _, slot := range []opentherm.Slot{opentherm.SlotSlave, opentherm.SlotMaster} {
		if ev, ok := r.invalidate(id, slot, opentherm.SourceRequest, false); ok {
			events = append(events, ev)
		}
	}
	return events
}

// slotFor picks the slot an invalid-data answer refers to: the slot of the
// item's primary catalog entry, or the slave slot for unknown ids.
func (r *Registry) slotFor(id uint8) opentherm.Slot {
	if it, ok := r.catalog.Primary(id); ok {
		return it.Slot
	}
	return opentherm.SlotSlave
}

func (r *Registry) set(id uint8, slot opentherm.Slot, value uint16, valid bool, src opentherm.Source) (ChangeEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.itemLocked(id)
	s := item.slotPtr(slot)
	prev := *s
	if prev.Seen && prev.Value == value && prev.Valid == valid {
		return ChangeEvent{}, false
	}

	s.Value = value
	s.Valid = valid
	s.Seen = true
	s.UpdatedAt = r.now()

	return ChangeEvent{ID: id, Slot: slot, Previous: prev, Current: *s, Source: src}, true
}

// invalidate clears the valid flag of a slot. With touch set, a slot that was
// never seen is recorded as seen-but-invalid so readers learn the boiler
// answered; otherwise unseen slots are left alone.
func (r *Registry) invalidate(id uint8, slot opentherm.Slot, src opentherm.Source, touch bool) (ChangeEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok && !touch {
		return ChangeEvent{}, false
	}
	if !ok {
		item = r.itemLocked(id)
	}
	s := item.slotPtr(slot)
	prev := *s
	if !prev.Valid {
		if !prev.Seen && touch {
			s.Seen = true
			s.UpdatedAt = r.now()
		}
		return ChangeEvent{}, false
	}

	s.Valid = false
	s.UpdatedAt = r.now()

	return ChangeEvent{ID: id, Slot: slot, Previous: prev, Current: *s, Source: src}, true
}

// itemLocked returns the item for id, creating it. Caller holds mu.
func (r *Registry) itemLocked(id uint8) *DataItem {
	item, ok := r.items[id]
	if !ok {
		item = &DataItem{ID: id}
		r.items[id] = item
	}
	return item
}

// Get returns a copy of the cached state for a data id.
func (r *Registry) Get(id uint8) (DataItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return DataItem{}, false
	}
	return *item, true
}

// Read returns the typed value of a data id through its primary catalog item.
// Ids that are not in the catalog, or have never been seen, return false.
func (r *Registry) Read(id uint8) (Reading, bool) {
	it, ok := r.catalog.Primary(id)
	if !ok {
		return Reading{}, false
	}
	return r.reading(it)
}

// Typed returns the typed value of a named catalog item.
func (r *Registry) Typed(name string) (Reading, bool) {
	it, ok := r.catalog.Lookup(name)
	if !ok {
		return Reading{}, false
	}
	return r.reading(it)
}

// reading builds the typed view of a catalog item from its slot.
func (r *Registry) reading(it opentherm.Item) (Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[it.ID]
	if !ok {
		return Reading{}, false
	}
	slot := item.Slot(it.Slot)
	if !slot.Seen {
		return Reading{}, false
	}
	return Reading{
		Item:      it,
		Value:     opentherm.NewValue(it.Shape, slot.Value, it.Bit),
		Valid:     slot.Valid,
		UpdatedAt: slot.UpdatedAt,
	}, true
}

// Snapshot returns copies of all cached data items sorted by id,
// including ids that are not in the catalog.
func (r *Registry) Snapshot() []DataItem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]DataItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Readings returns the typed view of every catalog item that has been seen,
// in catalog order.
func (r *Registry) Readings() []Reading {
	var out []Reading
	for _, it := range r.catalog.Items() {
		if rd, ok := r.reading(it); ok {
			out = append(out, rd)
		}
	}
	return out
}
