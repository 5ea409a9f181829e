package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBattery() BatteryState {
	return BatteryState{
		ID:               "bat1",
		HubID:            "hub1",
		ChargeKWH:        5,
		CapacityMaxKWH:   10,
		ChargeRateKWH:    3,
		DischargeRateKWH: 2,
		ThresholdMin:     20,
		ThresholdMax:     90,
	}
}

func TestBatteryQuotas(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		b := testBattery()
		assert.InDelta(t, 3.0, b.QuotaChargeKWH(), 1e-9)
		assert.InDelta(t, 2.0, b.QuotaDischargeKWH(), 1e-9)
	})

	t.Run("threshold limited", func(t *testing.T) {
		b := testBattery()
		b.ChargeKWH = 8.5
		assert.InDelta(t, 0.5, b.QuotaChargeKWH(), 1e-9)
		b.ChargeKWH = 2.5
		assert.InDelta(t, 0.5, b.QuotaDischargeKWH(), 1e-9)
	})

	t.Run("clamped at zero outside thresholds", func(t *testing.T) {
		b := testBattery()
		b.ChargeKWH = 9.5
		assert.Equal(t, 0.0, b.QuotaChargeKWH())
		b.ChargeKWH = 1
		assert.Equal(t, 0.0, b.QuotaDischargeKWH())
	})

	t.Run("charge level", func(t *testing.T) {
		b := testBattery()
		assert.InDelta(t, 50.0, b.ChargeLevelPercent(), 1e-9)
		b.CapacityMaxKWH = 0
		assert.Equal(t, 0.0, b.ChargeLevelPercent())
	})
}

func TestBatteryValidate(t *testing.T) {
	require.NoError(t, testBattery().Validate())

	cases := map[string]func(b *BatteryState){
		"missing id":             func(b *BatteryState) { b.ID = "" },
		"zero capacity":          func(b *BatteryState) { b.CapacityMaxKWH = 0 },
		"negative charge":        func(b *BatteryState) { b.ChargeKWH = -1 },
		"charge over capacity":   func(b *BatteryState) { b.ChargeKWH = 11 },
		"negative rate":          func(b *BatteryState) { b.ChargeRateKWH = -1 },
		"max below min":          func(b *BatteryState) { b.ThresholdMin, b.ThresholdMax = 60, 50 },
		"max over 100":           func(b *BatteryState) { b.ThresholdMax = 101 },
		"unknown mode":           func(b *BatteryState) { b.ChargeMode = 7 },
		"window hour out of day": func(b *BatteryState) { b.ChargeWindow = &ChargeWindow{StartHour: 22, EndHour: 24} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := testBattery()
			mutate(&b)
			assert.ErrorIs(t, b.Validate(), ErrValidation)
		})
	}
}

func TestChargeWindow(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 3, 1, h, 30, 0, 0, time.UTC) }

	night := ChargeWindow{StartHour: 22, EndHour: 6}
	assert.True(t, night.Contains(at(23)))
	assert.True(t, night.Contains(at(0)))
	assert.True(t, night.Contains(at(5)))
	assert.False(t, night.Contains(at(6)))
	assert.False(t, night.Contains(at(12)))

	day := ChargeWindow{StartHour: 10, EndHour: 14}
	assert.True(t, day.Contains(at(10)))
	assert.False(t, day.Contains(at(14)))

	assert.False(t, ChargeWindow{StartHour: 3, EndHour: 3}.Contains(at(3)))
}

func TestWantsGridCharge(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	b := testBattery()
	assert.False(t, b.WantsGridCharge(at))

	b.ChargeMode = ChargeModeEmergency
	assert.True(t, b.WantsGridCharge(at))

	b.ChargeMode = ChargeModePersonalized
	assert.False(t, b.WantsGridCharge(at), "personalized without a window never grid charges")
	b.ChargeWindow = &ChargeWindow{StartHour: 22, EndHour: 6}
	assert.True(t, b.WantsGridCharge(at))
	assert.False(t, b.WantsGridCharge(at.Add(-12*time.Hour)))
}

func TestBatteryJSON(t *testing.T) {
	b := testBattery()
	b.ChargeMode = ChargeModeEmergency
	b.ChargeSource = ChargeSourceSolar

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chargeMode":"emergency"`)
	assert.Contains(t, string(data), `"chargeSource":"solar"`)

	var got BatteryState
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, b, got)

	t.Run("unknown mode string", func(t *testing.T) {
		err := json.Unmarshal([]byte(`{"chargeMode":"turbo"}`), &got)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestTickInputValidate(t *testing.T) {
	require.NoError(t, TickInput{ConsumptionKWH: 1, SolarKWH: 0, GridAvailableKWH: 2}.Validate())
	assert.ErrorIs(t, TickInput{ConsumptionKWH: -1}.Validate(), ErrValidation)
	assert.ErrorIs(t, TickInput{SolarKWH: -0.1}.Validate(), ErrValidation)
}

func TestAllocationRecordDerived(t *testing.T) {
	r := AllocationRecord{
		HouseFromGridKWH:    1.004,
		HouseFromBatteryKWH: 0.5,
		BatteryFromSolarKWH: 2,
		BatteryFromGridKWH:  0.25,
		GridExportKWH:       0.756,
	}
	assert.InDelta(t, 1.75, r.BatteryDeltaKWH(), 1e-9)
	assert.InDelta(t, 0.498, r.NetGridKWH(), 1e-9)

	rounded := r.Rounded()
	assert.Equal(t, 1.0, rounded.HouseFromGridKWH)
	assert.Equal(t, 0.76, rounded.GridExportKWH)
	assert.Equal(t, 1.004, r.HouseFromGridKWH, "Rounded must not modify the receiver")
}
