package units

import "testing"

func TestConvertSpeed(t *testing.T) {
	cases := []struct {
		unit string
		want float64
	}{
		{MPS, 100.0 / 3.6},
		{KMPH, 100},
		{KPH, 100},
		{MPH, 100 * 0.621371},
		{"unknown", 100},
	}
	for _, c := range cases {
		got := ConvertSpeed(100, c.unit)
		if diff := got - c.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("ConvertSpeed(100, %q) = %v, want %v", c.unit, got, c.want)
		}
	}
}

func TestClampUnitInterval(t *testing.T) {
	if ClampUnitInterval(2) != 1 {
		t.Fatal("expected clamp to 1")
	}
	if ClampUnitInterval(-2) != -1 {
		t.Fatal("expected clamp to -1")
	}
	if ClampUnitInterval(0.5) != 0.5 {
		t.Fatal("expected passthrough")
	}
}

func TestIsValidSpeedUnit(t *testing.T) {
	if !IsValidSpeedUnit(KMPH) {
		t.Fatal("kmph should be valid")
	}
	if IsValidSpeedUnit("furlongs") {
		t.Fatal("furlongs should not be valid")
	}
}
