package registry

import (
	"testing"
	"time"

	"github.com/nerrad567/otgw-core/internal/opentherm"
)

func newTestRegistry() *Registry {
	r := New(nil)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return base })
	return r
}

func TestApplyUpdateRules(t *testing.T) {
	tests := []struct {
		name      string
		msg       opentherm.Message
		src       opentherm.Source
		wantEvent bool
		wantSlot  opentherm.Slot
		wantValue uint16
		wantValid bool
	}{
		{
			name:      "read-ack sets slave slot",
			msg:       opentherm.Message{Type: opentherm.ReadAck, ID: 25, Value: 0x3200},
			src:       opentherm.SourceBoiler,
			wantEvent: true,
			wantSlot:  opentherm.SlotSlave,
			wantValue: 0x3200,
			wantValid: true,
		},
		{
			name:      "write-ack sets master slot",
			msg:       opentherm.Message{Type: opentherm.WriteAck, ID: 1, Value: 0x2D00},
			src:       opentherm.SourceBoiler,
			wantEvent: true,
			wantSlot:  opentherm.SlotMaster,
			wantValue: 0x2D00,
			wantValid: true,
		},
		{
			name:      "thermostat status request sets master slot",
			msg:       opentherm.Message{Type: opentherm.ReadData, ID: 0, Value: 0x0300},
			src:       opentherm.SourceThermostat,
			wantEvent: true,
			wantSlot:  opentherm.SlotMaster,
			wantValue: 0x0300,
			wantValid: true,
		},
		{
			name: "thermostat read of other id ignored",
			msg:  opentherm.Message{Type: opentherm.ReadData, ID: 25},
			src:  opentherm.SourceThermostat,
		},
		{
			name: "thermostat write ignored until acked",
			msg:  opentherm.Message{Type: opentherm.WriteData, ID: 1, Value: 0x2D00},
			src:  opentherm.SourceThermostat,
		},
		{
			name: "gateway answer ignored",
			msg:  opentherm.Message{Type: opentherm.ReadAck, ID: 25, Value: 0x3200},
			src:  opentherm.SourceAnswer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			ev, ok := r.Apply(tt.msg, tt.src)
			if ok != tt.wantEvent {
				t.Fatalf("Apply() changed = %v, want %v", ok, tt.wantEvent)
			}
			if !ok {
				if _, exists := r.Get(tt.msg.ID); exists {
					t.Errorf("Get(%d) exists after ignored frame", tt.msg.ID)
				}
				return
			}
			if ev.Slot != tt.wantSlot {
				t.Errorf("event slot = %v, want %v", ev.Slot, tt.wantSlot)
			}
			item, _ := r.Get(tt.msg.ID)
			slot := item.Slot(tt.wantSlot)
			if slot.Value != tt.wantValue || slot.Valid != tt.wantValid || !slot.Seen {
				t.Errorf("slot = %+v, want value 0x%04X valid %v", slot, tt.wantValue, tt.wantValid)
			}
		})
	}
}

func TestApplyIdempotent(t *testing.T) {
	r := newTestRegistry()
	msg := opentherm.Message{Type: opentherm.ReadAck, ID: 25, Value: 0x3200}

	if _, ok := r.Apply(msg, opentherm.SourceBoiler); !ok {
		t.Fatal("first Apply() produced no event")
	}
	if _, ok := r.Apply(msg, opentherm.SourceBoiler); ok {
		t.Error("second Apply() with equal value produced an event")
	}

	msg.Value = 0x3280
	ev, ok := r.Apply(msg, opentherm.SourceBoiler)
	if !ok {
		t.Fatal("Apply() with new value produced no event")
	}
	if ev.Previous.Value != 0x3200 || ev.Current.Value != 0x3280 {
		t.Errorf("event = %+v, want 0x3200 -> 0x3280", ev)
	}
}

func TestApplyInvalidKeepsValue(t *testing.T) {
	r := newTestRegistry()
	r.Apply(opentherm.Message{Type: opentherm.ReadAck, ID: 28, Value: 0x1E00}, opentherm.SourceBoiler)

	ev, ok := r.Apply(opentherm.Message{Type: opentherm.DataInvalid, ID: 28}, opentherm.SourceBoiler)
	if !ok {
		t.Fatal("DATA-INVALID produced no event")
	}
	if !ev.ValidityChanged() {
		t.Error("ValidityChanged() = false, want true")
	}

	rd, ok := r.Typed("return_water_temperature")
	if !ok {
		t.Fatal("Typed() not found")
	}
	if rd.Valid {
		t.Error("reading still valid after DATA-INVALID")
	}
	if rd.Value.Float() != 30 {
		t.Errorf("value = %v, want last value 30", rd.Value.Float())
	}

	if _, ok := r.Apply(opentherm.Message{Type: opentherm.UnknownDataID, ID: 28}, opentherm.SourceBoiler); ok {
		t.Error("second invalid answer produced an event")
	}

	ev, ok = r.Apply(opentherm.Message{Type: opentherm.ReadAck, ID: 28, Value: 0x1E00}, opentherm.SourceBoiler)
	if !ok || !ev.Current.Valid {
		t.Error("same value turning valid again should produce an event")
	}
}

func TestInvalidAnswerForWritableItemUsesMasterSlot(t *testing.T) {
	r := newTestRegistry()
	r.Apply(opentherm.Message{Type: opentherm.WriteAck, ID: 1, Value: 0x2D00}, opentherm.SourceBoiler)

	ev, ok := r.Apply(opentherm.Message{Type: opentherm.DataInvalid, ID: 1, Value: 0x2D00}, opentherm.SourceBoiler)
	if !ok {
		t.Fatal("DATA-INVALID produced no event")
	}
	if ev.Slot != opentherm.SlotMaster {
		t.Errorf("slot = %v, want master", ev.Slot)
	}
}

func TestMarkInvalid(t *testing.T) {
	r := newTestRegistry()

	if events := r.MarkInvalid(99); len(events) != 0 {
		t.Errorf("MarkInvalid() on unseen id = %d events, want 0", len(events))
	}
	if _, ok := r.Get(99); ok {
		t.Error("MarkInvalid() created an entry for an unseen id")
	}

	r.Apply(opentherm.Message{Type: opentherm.WriteAck, ID: 1, Value: 0x2D00}, opentherm.SourceBoiler)
	events := r.MarkInvalid(1)
	if len(events) != 1 || events[0].Slot != opentherm.SlotMaster {
		t.Fatalf("MarkInvalid() = %+v, want one master event", events)
	}
	if v, ok := r.Read(1); !ok || v.Valid {
		t.Errorf("Read(1) = %+v, %v, want invalid reading", v, ok)
	}
	if events := r.MarkInvalid(1); len(events) != 0 {
		t.Error("MarkInvalid() twice produced events")
	}
}

func TestUnknownIDsCachedButNotTyped(t *testing.T) {
	r := newTestRegistry()
	r.Apply(opentherm.Message{Type: opentherm.ReadAck, ID: 99, Value: 0x1234}, opentherm.SourceBoiler)

	if _, ok := r.Get(99); !ok {
		t.Error("Get(99) not cached")
	}
	if _, ok := r.Read(99); ok {
		t.Error("Read(99) returned a typed value for an unknown id")
	}

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID != 99 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if len(r.Readings()) != 0 {
		t.Error("Readings() exposes unknown ids")
	}
}

func TestStatusFlags(t *testing.T) {
	r := newTestRegistry()
	// master CH enable echoed in HB, slave CH active and flame in LB
	r.Apply(opentherm.Message{Type: opentherm.ReadAck, ID: 0, Value: 0x010A}, opentherm.SourceBoiler)

	tests := []struct {
		name string
		want bool
	}{
		{"master_central_heating_1", true},
		{"master_water_heating", false},
		{"slave_central_heating_1", true},
		{"slave_flame", true},
		{"slave_fault", false},
	}

	for _, tt := range tests {
		rd, ok := r.Typed(tt.name)
		if !ok {
			t.Fatalf("Typed(%q) not found", tt.name)
		}
		if rd.Value.Bool() != tt.want {
			t.Errorf("Typed(%q) = %v, want %v", tt.name, rd.Value.Bool(), tt.want)
		}
	}
}

func TestChangeEventAffects(t *testing.T) {
	r := newTestRegistry()
	catalog := r.Catalog()
	flame, _ := catalog.Lookup("slave_flame")
	fault, _ := catalog.Lookup("slave_fault")
	water, _ := catalog.Lookup("central_heating_temperature_1")

	ev, _ := r.Apply(opentherm.Message{Type: opentherm.ReadAck, ID: 0, Value: 0x0000}, opentherm.SourceBoiler)
	if !ev.Affects(flame) || !ev.Affects(fault) {
		t.Error("first event should affect every item of the id")
	}

	ev, _ = r.Apply(opentherm.Message{Type: opentherm.ReadAck, ID: 0, Value: 0x0008}, opentherm.SourceBoiler)
	if !ev.Affects(flame) {
		t.Error("flame bit change not reported")
	}
	if ev.Affects(fault) {
		t.Error("unchanged fault bit reported")
	}
	if ev.Affects(water) {
		t.Error("event for id 0 affects id 25")
	}
}

func TestAccept(t *testing.T) {
	r := newTestRegistry()
	if _, ok := r.Accept(1, 0x2D00); !ok {
		t.Fatal("Accept() produced no event")
	}
	rd, ok := r.Typed("central_heating_setpoint_1")
	if !ok || !rd.Valid || rd.Value.Float() != 45 {
		t.Errorf("Typed() = %+v, %v, want valid 45", rd, ok)
	}
	if _, ok := r.Accept(1, 0x2D00); ok {
		t.Error("Accept() with same value produced an event")
	}
}
