package climate

import (
	"errors"
	"math"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// MockOutput records setpoint decisions.
type MockOutput struct {
	setpoints []float64
	releases  int
}

func (m *MockOutput) WriteSetpoint(v float64) { m.setpoints = append(m.setpoints, v) }
func (m *MockOutput) ReleaseSetpoint()        { m.releases++ }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type counters struct {
	heat int
	idle int
}

func newTestCircuit(cfg Config) (*Circuit, *MockOutput, *fakeClock, *counters) {
	if cfg.Name == "" {
		cfg.Name = "floor"
	}
	// heat time limits only where a test asks for them
	if cfg.MinHeatTime == 0 {
		cfg.MinHeatTime = HeatTimeDisabled
	}
	if cfg.MaxHeatTime == 0 {
		cfg.MaxHeatTime = HeatTimeDisabled
	}
	cfg = cfg.WithDefaults()
	out := &MockOutput{}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)}
	c := New(cfg, out)
	c.SetClock(clock.now)
	n := &counters{}
	c.OnEnterHeating(func() { n.heat++ })
	c.OnEnterIdle(func() { n.idle++ })
	return c, out, clock, n
}

func TestDefaultHysteresisFromSetpointRange(t *testing.T) {
	cfg := Config{Name: "floor"}.WithDefaults()
	if cfg.HysteresisLow != 0.5 || cfg.HysteresisHigh != 0.5 {
		t.Errorf("hysteresis = %v/%v, want 0.5/0.5", cfg.HysteresisLow, cfg.HysteresisHigh)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestHysteresisTransitions(t *testing.T) {
	c, _, _, n := newTestCircuit(Config{DefaultTargetTemperature: 20, HysteresisLow: 0.5, HysteresisHigh: 0.5})

	steps := []struct {
		current   float64
		wantState State
		wantHeat  int
		wantIdle  int
	}{
		{19.8, StateIdle, 0, 0},    // inside the band from idle
		{19.4, StateHeating, 1, 0}, // below target - low
		{19.8, StateHeating, 1, 0}, // inside the band while heating
		{19.3, StateHeating, 1, 0}, // plain update, no new edge
		{20.6, StateIdle, 1, 1},    // above target + high
		{19.8, StateIdle, 1, 1},
		{20.9, StateIdle, 1, 1},
		{19.5, StateHeating, 2, 1}, // exact lower edge
	}

	for i, s := range steps {
		c.UpdateTemperature(s.current, true)
		if c.State() != s.wantState {
			t.Errorf("step %d (%.1f): state = %v, want %v", i, s.current, c.State(), s.wantState)
		}
		if n.heat != s.wantHeat || n.idle != s.wantIdle {
			t.Errorf("step %d (%.1f): callbacks heat=%d idle=%d, want %d/%d", i, s.current, n.heat, n.idle, s.wantHeat, s.wantIdle)
		}
	}
}

func TestInvalidInputHoldsState(t *testing.T) {
	c, _, _, n := newTestCircuit(Config{DefaultTargetTemperature: 20})

	c.UpdateTemperature(19.0, true)
	if c.State() != StateHeating {
		t.Fatal("circuit did not start heating")
	}

	c.UpdateTemperature(30, false)
	c.UpdateTemperature(math.NaN(), true)
	if c.State() != StateHeating || n.idle != 0 {
		t.Errorf("invalid input caused a transition: state %v idle %d", c.State(), n.idle)
	}
}

func TestNoHeatBeforeFirstSample(t *testing.T) {
	c, out, _, n := newTestCircuit(Config{DefaultTargetTemperature: 20})
	c.SetTargetTemperature(25)
	c.UpdateHeaterActive(true)
	c.Tick()

	if c.State() != StateIdle || n.heat != 0 || len(out.setpoints) != 0 {
		t.Error("circuit called for heat without a temperature")
	}
}

func TestModeOffForcesIdle(t *testing.T) {
	c, out, _, n := newTestCircuit(Config{DefaultTargetTemperature: 20})
	c.UpdateTemperature(18, true)

	c.SetMode(ModeOff)
	if c.State() != StateIdle || n.idle != 1 || out.releases != 1 {
		t.Errorf("off mode: state %v idle %d releases %d", c.State(), n.idle, out.releases)
	}

	c.UpdateTemperature(17, true)
	if c.State() != StateIdle {
		t.Error("circuit heats in off mode")
	}

	c.SetMode(ModeHeat)
	if c.State() != StateHeating || n.heat != 2 {
		t.Errorf("heat mode: state %v heat %d", c.State(), n.heat)
	}
}

func TestHeaterFaultBlocksStart(t *testing.T) {
	c, _, _, n := newTestCircuit(Config{DefaultTargetTemperature: 20})
	c.UpdateHeaterFault(true)
	c.UpdateTemperature(18, true)
	if c.State() != StateIdle || n.heat != 0 {
		t.Fatal("faulted heater asked to heat")
	}

	c.UpdateHeaterFault(false)
	if c.State() != StateHeating {
		t.Error("clearing the fault did not start heating")
	}
}

func TestHeaterSetpoint(t *testing.T) {
	tests := []struct {
		name    string
		outside float64
		ret     float64
		useOut  bool
		useRet  bool
		want    float64
	}{
		{name: "no compensation uses max", want: 55},
		{name: "weather curve midpoint", outside: 5, useOut: true, want: 40},
		{name: "outside at target uses min", outside: 20, useOut: true, want: 25},
		{name: "colder than design clamps to max", outside: -20, useOut: true, want: 55},
		{name: "return compensation", outside: 5, useOut: true, ret: 30, useRet: true, want: 42.5},
		{name: "small spread adds nothing", outside: 5, useOut: true, ret: 37, useRet: true, want: 40},
		{name: "compensation clamps to max", ret: 20, useRet: true, want: 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, out, _, _ := newTestCircuit(Config{DefaultTargetTemperature: 20})
			if tt.useOut {
				c.UpdateOutsideTemperature(tt.outside, true)
			}
			if tt.useRet {
				c.UpdateReturnTemperature(tt.ret, true)
			}
			c.UpdateTemperature(18, true)

			if got := c.HeaterSetpoint(); got != tt.want {
				t.Errorf("HeaterSetpoint() = %v, want %v", got, tt.want)
			}
			if len(out.setpoints) != 1 || out.setpoints[0] != tt.want {
				t.Errorf("written setpoints = %v, want [%v]", out.setpoints, tt.want)
			}
		})
	}
}

func TestSetpointFollowsCompensationWhileHeating(t *testing.T) {
	c, out, _, _ := newTestCircuit(Config{DefaultTargetTemperature: 20})
	c.UpdateOutsideTemperature(5, true)
	c.UpdateTemperature(18, true)

	c.UpdateOutsideTemperature(-1, true)
	c.UpdateOutsideTemperature(-1, true)

	want := []float64{40, 46}
	if len(out.setpoints) != len(want) {
		t.Fatalf("setpoints = %v, want %v", out.setpoints, want)
	}
	for i := range want {
		if out.setpoints[i] != want[i] {
			t.Errorf("setpoints = %v, want %v", out.setpoints, want)
		}
	}

	c.UpdateTemperature(21, true)
	c.UpdateOutsideTemperature(0, true)
	if len(out.setpoints) != 2 || out.releases != 1 {
		t.Errorf("idle circuit kept writing: setpoints %v releases %d", out.setpoints, out.releases)
	}
}

func TestMinimumHeatTime(t *testing.T) {
	c, _, clock, n := newTestCircuit(Config{
		DefaultTargetTemperature: 20,
		MinHeatTime:              5 * time.Minute,
		MaxHeatTime:              15 * time.Minute,
	})

	c.UpdateTemperature(19, true)
	clock.advance(2 * time.Minute)
	c.UpdateTemperature(21, true)
	if c.State() != StateHeating {
		t.Fatal("left heating before the minimum heat time")
	}

	c.UpdateHeaterActive(true)
	clock.advance(5 * time.Minute)
	c.Tick()
	if c.State() != StateHeating {
		t.Fatal("left heating while the heater is still active within max heat time")
	}

	c.UpdateHeaterActive(false)
	if c.State() != StateIdle || n.idle != 1 {
		t.Errorf("state %v idle %d, want idle once the heater stopped", c.State(), n.idle)
	}
}

func TestMaximumHeatTime(t *testing.T) {
	c, _, clock, _ := newTestCircuit(Config{
		DefaultTargetTemperature: 20,
		MaxHeatTime:              15 * time.Minute,
	})
	c.UpdateHeaterActive(true)
	c.UpdateTemperature(19, true)

	clock.advance(16 * time.Minute)
	c.UpdateTemperature(21, true)
	if c.State() != StateIdle {
		t.Error("heating extended past the maximum heat time")
	}
}

func TestHeatTimeDefaults(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantMin time.Duration
		wantMax time.Duration
	}{
		{name: "unset", cfg: Config{}, wantMin: DefaultMinHeatTime, wantMax: DefaultMaxHeatTime},
		{name: "configured", cfg: Config{MinHeatTime: time.Minute, MaxHeatTime: time.Hour}, wantMin: time.Minute, wantMax: time.Hour},
		{name: "disabled", cfg: Config{MinHeatTime: HeatTimeDisabled, MaxHeatTime: HeatTimeDisabled}, wantMin: HeatTimeDisabled, wantMax: HeatTimeDisabled},
		{name: "short maximum caps default minimum", cfg: Config{MaxHeatTime: 3 * time.Minute}, wantMin: 3 * time.Minute, wantMax: 3 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg.WithDefaults()
			if cfg.MinHeatTime != tt.wantMin || cfg.MaxHeatTime != tt.wantMax {
				t.Errorf("heat times = %v/%v, want %v/%v", cfg.MinHeatTime, cfg.MaxHeatTime, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestHeatTimeYAML(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMin time.Duration
		wantMax time.Duration
	}{
		{name: "absent", doc: "name: floor\n", wantMin: DefaultMinHeatTime, wantMax: DefaultMaxHeatTime},
		{name: "explicit zero", doc: "name: floor\nmin_heat_time: 0\nmax_heat_time: 0\n", wantMin: HeatTimeDisabled, wantMax: HeatTimeDisabled},
		{name: "explicit zero duration", doc: "name: floor\nmin_heat_time: 0s\n", wantMin: HeatTimeDisabled, wantMax: DefaultMaxHeatTime},
		{name: "durations", doc: "name: floor\nmin_heat_time: 10m\nmax_heat_time: 30m\n", wantMin: 10 * time.Minute, wantMax: 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			if err := yaml.Unmarshal([]byte(tt.doc), &cfg); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if cfg.Name != "floor" {
				t.Errorf("Name = %q, want floor", cfg.Name)
			}
			cfg = cfg.WithDefaults()
			if cfg.MinHeatTime != tt.wantMin || cfg.MaxHeatTime != tt.wantMax {
				t.Errorf("heat times = %v/%v, want %v/%v", cfg.MinHeatTime, cfg.MaxHeatTime, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestDefaultMinimumHeatTimeEnforced(t *testing.T) {
	cfg := Config{Name: "floor", DefaultTargetTemperature: 20}.WithDefaults()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)}
	c := New(cfg, &MockOutput{})
	c.SetClock(clock.now)

	c.UpdateTemperature(19, true)
	clock.advance(2 * time.Minute)
	c.UpdateTemperature(21, true)
	if c.State() != StateHeating {
		t.Fatal("default minimum heat time not applied")
	}

	clock.advance(DefaultMinHeatTime)
	c.Tick()
	if c.State() != StateIdle {
		t.Errorf("state = %v after the minimum heat time, want idle", c.State())
	}
}

func TestPrediction(t *testing.T) {
	c, _, clock, n := newTestCircuit(Config{
		DefaultTargetTemperature: 20,
		Prediction:               true,
		PredictionSamples:        2,
		Lookahead:                2 * time.Minute,
	})

	c.UpdateTemperature(20, true)
	clock.advance(time.Minute)
	// average goes 20 -> 19.5, change -0.5, predicted 19.5 + 2 * -0.5 = 18.5
	c.UpdateTemperature(19, true)

	st := c.Status()
	if st.PredictedTemperature == nil || *st.PredictedTemperature != 18.5 {
		t.Fatalf("predicted = %v, want 18.5", st.PredictedTemperature)
	}
	if st.AverageTemperatureChange == nil || *st.AverageTemperatureChange != -0.5 {
		t.Errorf("average change = %v, want -0.5", st.AverageTemperatureChange)
	}
	if c.State() != StateHeating || n.heat != 1 {
		t.Errorf("prediction did not start heating: state %v", c.State())
	}
}

func TestMultipleCallbacks(t *testing.T) {
	c, _, _, _ := newTestCircuit(Config{DefaultTargetTemperature: 20})
	var order []string
	c.OnEnterHeating(func() { order = append(order, "a") })
	c.OnEnterHeating(func() { order = append(order, "b") })

	c.UpdateTemperature(18, true)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("callbacks = %v, want [a b]", order)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no name", cfg: Config{}},
		{name: "inverted range", cfg: Config{Name: "x", MinSetpoint: 50, MaxSetpoint: 30}},
		{name: "bad target", cfg: Config{Name: "x", Target: 2}},
		{name: "max below min heat time", cfg: Config{Name: "x", MinHeatTime: time.Hour, MaxHeatTime: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
