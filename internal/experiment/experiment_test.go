package experiment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/coolrig/internal/actuator"
	"github.com/san-kum/coolrig/internal/config"
	"github.com/san-kum/coolrig/internal/rig"
	"github.com/san-kum/coolrig/internal/storage"
	"github.com/san-kum/coolrig/internal/timeutil"
)

const fixturePath = "../../testdata/temperature_static.csv"

func epoch() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestRegistry_Lists(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Equal(t, []string{"fixture", "plant"}, reg.ListSensors())
	assert.Equal(t, []string{"bank", "plant", "serial"}, reg.ListActuators())
}

func TestRegistry_PlantIsShared(t *testing.T) {
	reg := NewRegistry(timeutil.NewManual(epoch()))
	hw, err := reg.Build(config.DefaultConfig())
	require.NoError(t, err)

	require.NotNil(t, hw.Plant)
	assert.Same(t, hw.Plant, hw.Sensor)
	assert.Same(t, hw.Plant, hw.Actuator)
}

func TestRegistry_Unknown(t *testing.T) {
	reg := NewRegistry(nil)
	cfg := config.DefaultConfig()
	cfg.Sensor.Kind = "lidar"
	_, err := reg.Build(cfg)
	assert.ErrorContains(t, err, "unknown sensor")
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry(nil)
	bank := actuator.NewBank(2)
	reg.RegisterActuator("loopback", func(cfg *config.Config, hw *Hardware) (rig.Actuator, error) {
		return bank, nil
	})
	cfg := config.DefaultConfig()
	cfg.Actuator.Kind = "loopback"
	hw, err := reg.Build(cfg)
	require.NoError(t, err)
	assert.Same(t, bank, hw.Actuator)
}

func TestSimulate_Bench(t *testing.T) {
	cfg := config.GetPreset("bench")
	cfg.Sensor.Fixture = fixturePath
	store := storage.New(t.TempDir())
	clock := timeutil.NewManual(epoch())

	exp, err := New(cfg, NewRegistry(clock), clock, store, "bench")
	require.NoError(t, err)

	res, err := exp.Simulate(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Ticks)
	require.NotEmpty(t, res.RunID)
	assert.InDelta(t, 200, res.Metrics["control_effort"], 1e-9)

	meta, err := store.Load(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 5, meta.Ticks)
	assert.Equal(t, "bench", meta.Name)

	log, err := store.LoadTicks(res.RunID)
	require.NoError(t, err)
	require.Len(t, log.Rows, 5)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2}, log.Column("time"))
	assert.Equal(t, []float64{0, 100, 100, 100, 100}, log.Column("mfc_0"))
	for _, v := range log.Column("temperature_0") {
		assert.Greater(t, v, 20.0)
	}

	bank := exp.Hardware().Actuator.(*actuator.Bank)
	assert.True(t, bank.Closed())
	assert.Equal(t, []float64{0, 0}, bank.Flows(), "shutdown zeroes every zone")
}

func TestClose_BeforeRun(t *testing.T) {
	cfg := config.GetPreset("bench")
	cfg.Sensor.Fixture = fixturePath
	store := storage.New(t.TempDir())
	clock := timeutil.NewManual(epoch())

	exp, err := New(cfg, NewRegistry(clock), clock, store, "aborted")
	require.NoError(t, err)
	bank := exp.Hardware().Actuator.(*actuator.Bank)
	require.NoError(t, bank.SetFlow(context.Background(), 0, 120))

	require.NoError(t, exp.Close())
	require.NoError(t, exp.Close())
	assert.True(t, bank.Closed())
	assert.Equal(t, []float64{0, 0}, bank.Flows())

	runs, err := store.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "aborted", runs[0].Name)
	assert.False(t, runs[0].Ended.IsZero(), "metadata finalized")
	assert.Zero(t, runs[0].Ticks)
}

func TestSimulate_PlantTracksSetpoints(t *testing.T) {
	cfg := config.GetPreset("two-zone")
	clock := timeutil.NewManual(epoch())

	exp, err := New(cfg, NewRegistry(clock), clock, nil, "")
	require.NoError(t, err)

	res, err := exp.Simulate(context.Background(), 240)
	require.NoError(t, err)
	assert.Equal(t, 240, res.Ticks)
	assert.Empty(t, res.RunID)

	end := exp.Hardware().Plant.Temperatures()
	assert.InDelta(t, 30, end[0], 0.5)
	// Zone 1 settles warm: the decoupler cancels its small output against
	// zone 0's.
	assert.InDelta(t, 40, end[1], 1.5)
}

func TestSimulate_NeedsManualClock(t *testing.T) {
	exp, err := New(config.DefaultConfig(), NewRegistry(nil), timeutil.Real{}, nil, "")
	require.NoError(t, err)
	_, err = exp.Simulate(context.Background(), 1)
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Zones = 0
	_, err := New(cfg, NewRegistry(nil), nil, nil, "")
	assert.Error(t, err)
}
