package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/otgw-core/internal/arbiter"
	"github.com/nerrad567/otgw-core/internal/climate"
	"github.com/nerrad567/otgw-core/internal/opentherm"
)

func floorCircuit() climate.Config {
	return climate.Config{
		Name:                     "floor",
		DefaultTargetTemperature: 20,
		MinSetpoint:              25,
		MaxSetpoint:              55,
		HysteresisLow:            0.5,
		HysteresisHigh:           0.5,
		Priority:                 10,
		TemperatureSource:        "room_temperature",
		MinHeatTime:              climate.HeatTimeDisabled,
		MaxHeatTime:              climate.HeatTimeDisabled,
	}
}

func TestHeatingCircuitEdges(t *testing.T) {
	h := newHarness(t, Config{Dialect: DialectGateway})

	c, err := h.e.RegisterHeatingCircuit(floorCircuit())
	if err != nil {
		t.Fatalf("RegisterHeatingCircuit() error = %v", err)
	}

	heating := make(chan struct{}, 4)
	idle := make(chan struct{}, 4)
	statuses := make(chan climate.Status, 4)
	c.OnEnterHeating(func() {
		// callbacks may call back into the engine
		st, err := c.Status()
		if err == nil {
			statuses <- st
		}
		heating <- struct{}{}
	})
	c.OnEnterIdle(func() { idle <- struct{}{} })

	h.feed(boiler(opentherm.ReadAck, 24, f88(t, 19.4)))
	waitFor(t, heating, "enter heating")
	if st := <-statuses; st.State != "heating" {
		t.Errorf("status in callback = %+v", st)
	}
	if got := h.link.Last(); got != "CS=55.00" {
		t.Fatalf("written = %q, want CS=55.00", got)
	}
	h.feed("CS: 55.00")

	// inside the band: no transition
	h.feed(boiler(opentherm.ReadAck, 24, f88(t, 19.8)))
	h.feed(boiler(opentherm.ReadAck, 24, f88(t, 20.6)))
	waitFor(t, idle, "enter idle")
	if got := h.link.Last(); got != "CS=0.00" {
		t.Errorf("written = %q, want release CS=0.00", got)
	}
	if len(heating) != 0 {
		t.Error("heating callback fired more than once")
	}
	if got := testutil.ToFloat64(h.e.metrics.heating.WithLabelValues("floor")); got != 0 {
		t.Errorf("heating gauge = %v, want 0", got)
	}
}

func TestCircuitPushedTemperature(t *testing.T) {
	h := newHarness(t, Config{Dialect: DialectGateway})

	cfg := floorCircuit()
	cfg.TemperatureSource = ""
	cfg.Target = climate.TargetCentralHeating2
	c, err := h.e.RegisterHeatingCircuit(cfg)
	if err != nil {
		t.Fatalf("RegisterHeatingCircuit() error = %v", err)
	}

	if err := c.UpdateTemperature(18, true); err != nil {
		t.Fatalf("UpdateTemperature() error = %v", err)
	}
	if got := h.link.Last(); got != "C2=55.00" {
		t.Errorf("written = %q, want C2=55.00", got)
	}

	if err := c.SetMode(climate.ModeOff); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.State != "idle" || st.Mode != climate.ModeOff {
		t.Errorf("status = %+v", st)
	}

	if err := c.SetMode("auto"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetMode(auto) error = %v", err)
	}
}

func TestCircuitFedFromExistingReadings(t *testing.T) {
	h := newHarness(t, Config{Dialect: DialectGateway})
	h.feed(
		boiler(opentherm.ReadAck, 24, f88(t, 21)),
		boiler(opentherm.ReadAck, 27, f88(t, 5)),
	)

	cfg := floorCircuit()
	cfg.OutsideTemperatureSource = "outside_temperature"
	c, err := h.e.RegisterHeatingCircuit(cfg)
	if err != nil {
		t.Fatalf("RegisterHeatingCircuit() error = %v", err)
	}
	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.CurrentTemperature == nil || *st.CurrentTemperature != 21 {
		t.Errorf("current temperature = %v", st.CurrentTemperature)
	}
	if st.OutsideTemperature == nil || *st.OutsideTemperature != 5 {
		t.Errorf("outside temperature = %v", st.OutsideTemperature)
	}
}

func TestOverrideThermostat(t *testing.T) {
	h := newHarness(t, Config{Dialect: DialectGateway, OverrideThermostat: true})

	c, err := h.e.RegisterHeatingCircuit(floorCircuit())
	if err != nil {
		t.Fatalf("RegisterHeatingCircuit() error = %v", err)
	}
	if got := h.link.Last(); got != "CS=5.00" {
		t.Fatalf("written = %q, want CS=5.00", got)
	}
	h.feed("CS: 5.00")
	if got := h.link.Last(); got != "CH=0" {
		t.Fatalf("written = %q, want CH=0", got)
	}
	h.feed("CH: 0")

	if err := c.UpdateTemperature(19, true); err != nil {
		t.Fatalf("UpdateTemperature() error = %v", err)
	}
	if got := h.link.Last(); got != "CS=55.00" {
		t.Fatalf("written = %q, want CS=55.00", got)
	}
	h.feed("CS: 55.00")
	if got := h.link.Last(); got != "CH=1" {
		t.Fatalf("written = %q, want CH=1", got)
	}
	h.feed("CH: 1")

	// without demand the override value comes back instead of a release
	if err := c.UpdateTemperature(21, true); err != nil {
		t.Fatalf("UpdateTemperature() error = %v", err)
	}
	if got := h.link.Last(); got != "CS=5.00" {
		t.Errorf("written = %q, want CS=5.00", got)
	}
}

func TestRegisterHeatingCircuitErrors(t *testing.T) {
	h := newHarness(t, Config{})
	if _, err := h.e.RegisterHeatingCircuit(floorCircuit()); err != nil {
		t.Fatalf("RegisterHeatingCircuit() error = %v", err)
	}
	if err := h.e.RegisterSetpointSource(1, "thermostat", 1); err != nil {
		t.Fatalf("RegisterSetpointSource() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*climate.Config)
		wantErr error
	}{
		{"duplicate name", func(*climate.Config) {}, ErrDuplicateCircuit},
		{"name taken by source", func(c *climate.Config) { c.Name = "thermostat" }, arbiter.ErrDuplicateSource},
		{"missing name", func(c *climate.Config) { c.Name = "" }, climate.ErrInvalidConfig},
		{"unknown source item", func(c *climate.Config) {
			c.Name = "other"
			c.ReturnTemperatureSource = "return_temp"
		}, opentherm.ErrUnknownItem},
		{"bad target", func(c *climate.Config) {
			c.Name = "other"
			c.Target = 2
		}, climate.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := floorCircuit()
			tt.mutate(&cfg)
			if _, err := h.e.RegisterHeatingCircuit(cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("RegisterHeatingCircuit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := len(h.e.Circuits()); got != 1 {
		t.Errorf("Circuits() = %d, want 1", got)
	}
	if _, ok := h.e.Circuit("floor"); !ok {
		t.Error("Circuit(floor) not found")
	}
	statuses, err := h.e.CircuitStatuses()
	if err != nil || len(statuses) != 1 || statuses[0].Name != "floor" {
		t.Errorf("CircuitStatuses() = %v, %v", statuses, err)
	}
}

func TestDispatcherOrderAndPanics(t *testing.T) {
	d := newDispatcher(noopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.run(ctx)

	got := make(chan int, 3)
	d.post(func() { got <- 1 })
	d.post(func() { panic("boom") })
	d.post(func() { got <- 2 })
	d.post(func() { got <- 3 })

	for want := 1; want <= 3; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("callback %d ran, want %d", v, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("callback %d did not run", want)
		}
	}
}
