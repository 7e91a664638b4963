package registry

import (
	"time"

	"github.com/nerrad567/otgw-core/internal/opentherm"
)

// Slot is one side (master or slave) of a cached data item.
type Slot struct {
	// Value is the last raw data value. It is kept when the slot turns invalid.
	Value uint16 `json:"value"`

	// Valid is false after DATA-INVALID, UNKNOWN-DATAID or a communication failure.
	Valid bool `json:"valid"`

	// Seen is true once any frame has touched the slot.
	Seen bool `json:"seen"`

	// UpdatedAt is when the slot last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// DataItem is the cached state of one data id.
type DataItem struct {
	ID     uint8 `json:"id"`
	Master Slot  `json:"master"`
	Slave  Slot  `json:"slave"`
}

// Slot returns the slot selected by s.
func (d DataItem) Slot(s opentherm.Slot) Slot {
	if s == opentherm.SlotMaster {
		return d.Master
	}
	return d.Slave
}

func (d *DataItem) slotPtr(s opentherm.Slot) *Slot {
	if s == opentherm.SlotMaster {
		return &d.Master
	}
	return &d.Slave
}

// ChangeEvent describes a change to one slot of a data item.
type ChangeEvent struct {
	ID       uint8
	Slot     opentherm.Slot
	Previous Slot
	Current  Slot
	Source   opentherm.Source
}

// ValidityChanged reports whether the event flipped the slot's validity.
func (e ChangeEvent) ValidityChanged() bool {
	return e.Previous.Valid != e.Current.Valid
}

// Affects reports whether the event changes what a catalog item reads as.
//
// An item sharing its data id with others (flags, byte halves) is only
// affected when its own bits changed or the slot's validity flipped.
func (e ChangeEvent) Affects(it opentherm.Item) bool {
	if it.ID != e.ID || it.Slot != e.Slot {
		return false
	}
	if e.ValidityChanged() || !e.Previous.Seen {
		return true
	}
	return itemBits(it, e.Previous.Value) != itemBits(it, e.Current.Value)
}

// itemBits masks raw down to the part of the data value an item reads.
func itemBits(it opentherm.Item, raw uint16) uint16 {
	switch it.Shape {
	case opentherm.ShapeFlag:
		return raw & (1 << it.Bit)
	case opentherm.ShapeU8High:
		return raw & 0xFF00
	case opentherm.ShapeU8Low:
		return raw & 0x00FF
	default:
		return raw
	}
}

// Reading is a typed view of a catalog item.
type Reading struct {
	Item      opentherm.Item
	Value     opentherm.Value
	Valid     bool
	UpdatedAt time.Time
}
