package opentherm

import (
	"fmt"
	"sort"
	"strconv"
)

// Slot selects which side of a data item an entry is read from.
type Slot uint8

// Registry slots.
const (
	// SlotSlave holds values reported by the boiler (READ-ACK).
	SlotSlave Slot = iota
	// SlotMaster holds values written by the master and accepted by the boiler.
	SlotMaster
)

// String returns "slave" or "master".
func (s Slot) String() string {
	if s == SlotMaster {
		return "master"
	}
	return "slave"
}

// Kind is the entity kind an item is published as.
type Kind string

// Entity kinds.
const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindText         Kind = "text"
	// KindRaw items expose a whole data id and are not published as entities.
	KindRaw Kind = "raw"
)

// Item describes one supported data item.
type Item struct {
	// Name is the stable identifier used in topics and APIs.
	Name string

	// ID is the OpenTherm data id.
	ID uint8

	// Shape is how the data value is decoded.
	Shape Shape

	// Bit selects the bit for ShapeFlag (0-7 low byte, 8-15 high byte).
	Bit uint8

	// Slot is the registry slot the value is taken from.
	Slot Slot

	// Unit is the unit of measurement, empty for flags and counters.
	Unit string

	// Kind is the entity kind used by the publish layer.
	Kind Kind

	// Command is the OTGW command that writes this item, empty if the
	// gateway has no command for it.
	Command string

	// Writable reports whether the master may write the item.
	Writable bool
}

// Units.
const (
	UnitCelsius  = "°C"
	UnitPercent  = "%"
	UnitBar      = "bar"
	UnitLitreMin = "l/min"
	UnitKW       = "kW"
	UnitHours    = "h"
)

func temp(name string, id uint8) Item {
	return Item{Name: name, ID: id, Shape: ShapeF88, Unit: UnitCelsius, Kind: KindSensor}
}

func flag(name string, id, bit uint8) Item {
	return Item{Name: name, ID: id, Shape: ShapeFlag, Bit: bit, Kind: KindBinarySensor}
}

func counter(name string, id uint8, unit string) Item {
	return Item{Name: name, ID: id, Shape: ShapeU16, Unit: unit, Kind: KindSensor}
}

func writable(it Item, command string) Item {
	it.Writable = true
	it.Command = command
	return it
}

func master(it Item) Item {
	it.Slot = SlotMaster
	return it
}

// catalogItems is the closed table of supported items.
var catalogItems = []Item{
	// Whole-id views for bitfield items, used by Read(id).
	{Name: "status", ID: 0, Shape: ShapeU16, Kind: KindRaw},
	{Name: "slave_config", ID: 3, Shape: ShapeU16, Kind: KindRaw},
	{Name: "fault_flags", ID: 5, Shape: ShapeU16, Kind: KindRaw},
	{Name: "capacity_and_modulation", ID: 15, Shape: ShapeU16, Kind: KindRaw},

	// Status (id 0): master bits are echoed in the high byte of the boiler's READ-ACK.
	flag("master_central_heating_1", 0, 8),
	flag("master_water_heating", 0, 9),
	flag("master_cooling", 0, 10),
	flag("master_outside_temperature_compensation", 0, 11),
	flag("master_central_heating_2", 0, 12),
	flag("master_summer_mode", 0, 13),
	flag("master_water_heating_blocking", 0, 14),
	flag("slave_fault", 0, 0),
	flag("slave_central_heating_1", 0, 1),
	flag("slave_water_heating", 0, 2),
	flag("slave_flame", 0, 3),
	flag("slave_cooling", 0, 4),
	flag("slave_central_heating_2", 0, 5),
	flag("slave_diagnostic_event", 0, 6),

	// Setpoints
	master(writable(temp("central_heating_setpoint_1", 1), CmdControlSetpoint)),
	master(writable(Item{Name: "remote_request", ID: 4, Shape: ShapeU8High, Kind: KindSensor}, CmdRemoteRequest)),
	master(writable(temp("central_heating_setpoint_2", 8), CmdControlSetpoint2)),
	master(writable(temp("remote_override_room_setpoint", 9), CmdTemperatureConst)),
	master(writable(Item{Name: "max_relative_modulation_level", ID: 14, Shape: ShapeF88, Unit: UnitPercent, Kind: KindSensor}, CmdMaxModulation)),
	temp("room_setpoint_1", 16),
	temp("room_setpoint_2", 23),
	writable(temp("hot_water_setpoint", 56), CmdHotWaterSetpoint),
	writable(temp("max_central_heating_setpoint", 57), CmdMaxCHSetpoint),

	// Slave configuration (id 3, high byte)
	flag("slave_config_hot_water_present", 3, 8),
	flag("slave_config_modulation_unsupported", 3, 9),
	flag("slave_config_cooling_supported", 3, 10),
	flag("slave_config_hot_water_tank", 3, 11),
	flag("slave_config_low_off_pump_control", 3, 12),
	flag("slave_config_central_heating_2_present", 3, 13),

	// Faults (id 5, high byte)
	flag("service_required", 5, 8),
	flag("lockout_reset", 5, 9),
	flag("low_water_pressure", 5, 10),
	flag("gas_flame_fault", 5, 11),
	flag("air_pressure_fault", 5, 12),
	flag("water_overtemperature", 5, 13),

	// Modulation
	{Name: "max_boiler_capacity", ID: 15, Shape: ShapeU8High, Unit: UnitKW, Kind: KindSensor},
	{Name: "min_modulation_level", ID: 15, Shape: ShapeU8Low, Unit: UnitPercent, Kind: KindSensor},
	{Name: "relative_modulation_level", ID: 17, Shape: ShapeF88, Unit: UnitPercent, Kind: KindSensor},

	// Water
	{Name: "central_heating_water_pressure", ID: 18, Shape: ShapeF88, Unit: UnitBar, Kind: KindSensor},
	{Name: "hot_water_flow_rate", ID: 19, Shape: ShapeF88, Unit: UnitLitreMin, Kind: KindSensor},

	// Clock
	master(writable(Item{Name: "day_time", ID: 20, Shape: ShapeDayTime, Kind: KindText}, CmdSetClock)),

	// Temperatures
	temp("room_temperature", 24),
	temp("central_heating_temperature_1", 25),
	temp("hot_water_temperature_1", 26),
	writable(temp("outside_temperature", 27), CmdOutsideTemperature),
	temp("return_water_temperature", 28),
	temp("solar_storage_temperature", 29),
	{Name: "solar_collector_temperature", ID: 30, Shape: ShapeS16, Unit: UnitCelsius, Kind: KindSensor},
	temp("central_heating_temperature_2", 31),
	temp("hot_water_temperature_2", 32),
	{Name: "exhaust_temperature", ID: 33, Shape: ShapeS16, Unit: UnitCelsius, Kind: KindSensor},

	// Starts
	counter("central_heating_burner_starts", 116, ""),
	counter("central_heating_pump_starts", 117, ""),
	counter("hot_water_pump_starts", 118, ""),
	counter("hot_water_burner_starts", 119, ""),

	// Operation hours
	counter("central_heating_burner_operation_time", 120, UnitHours),
	counter("central_heating_pump_operation_time", 121, UnitHours),
	counter("hot_water_pump_operation_time", 122, UnitHours),
	counter("hot_water_burner_operation_time", 123, UnitHours),

	// Versions
	master(Item{Name: "master_opentherm_version", ID: 124, Shape: ShapeF88, Kind: KindText}),
	{Name: "slave_opentherm_version", ID: 125, Shape: ShapeF88, Kind: KindText},
}

// Catalog is an immutable index over the supported items.
type Catalog struct {
	items  []Item
	byName map[string]Item
	byID   map[uint8][]Item
}

// defaultCatalog is built once from catalogItems.
var defaultCatalog = mustCatalog(catalogItems)

// DefaultCatalog returns the catalog of all supported items.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// NewCatalog builds a catalog and checks it for duplicate names.
func NewCatalog(items []Item) (*Catalog, error) {
	c := &Catalog{
		items:  make([]Item, 0, len(items)),
		byName: make(map[string]Item, len(items)),
		byID:   make(map[uint8][]Item),
	}
	for _, it := range items {
		if it.Name == "" {
			return nil, fmt.Errorf("%w: item with id %d has no name", ErrUnknownItem, it.ID)
		}
		if _, dup := c.byName[it.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog item %q", it.Name)
		}
		if it.ID > MaxItemID {
			return nil, fmt.Errorf("catalog item %q: id %d out of range", it.Name, it.ID)
		}
		c.items = append(c.items, it)
		c.byName[it.Name] = it
		c.byID[it.ID] = append(c.byID[it.ID], it)
	}
	return c, nil
}

func mustCatalog(items []Item) *Catalog {
	c, err := NewCatalog(items)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the item with the given name.
func (c *Catalog) Lookup(name string) (Item, bool) {
	it, ok := c.byName[name]
	return it, ok
}

// ForID returns all items carried by a data id, in catalog order.
func (c *Catalog) ForID(id uint8) []Item {
	return c.byID[id]
}

// Known reports whether any item uses the data id.
func (c *Catalog) Known(id uint8) bool {
	return len(c.byID[id]) > 0
}

// Primary returns the item used for whole-id reads and writes: the writable
// item if there is one, otherwise the first item for the id.
func (c *Catalog) Primary(id uint8) (Item, bool) {
	items := c.byID[id]
	if len(items) == 0 {
		return Item{}, false
	}
	for _, it := range items {
		if it.Writable {
			return it, true
		}
	}
	return items[0], true
}

// Items returns all items in catalog order.
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// IDs returns the distinct data ids in ascending order.
func (c *Catalog) IDs() []uint8 {
	ids := make([]uint8, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CommandFor builds the OTGW command that writes raw to the item.
//
// Returns ErrNotWritable if the item has no gateway command.
func (it Item) CommandFor(raw uint16) (Command, error) {
	if !it.Writable || it.Command == "" {
		return Command{}, fmt.Errorf("%w: %s", ErrNotWritable, it.Name)
	}

	v := NewValue(it.Shape, raw, it.Bit)
	switch it.Shape {
	case ShapeF88:
		return TemperatureCommand(it.Command, v.Float()), nil
	case ShapeDayTime:
		return NewCommand(it.Command, v.DayTime().String()), nil
	default:
		return NewCommand(it.Command, strconv.Itoa(int(v.Float()))), nil
	}
}
