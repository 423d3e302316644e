package state

import "testing"

func baseInputs() Inputs {
	return Inputs{
		RSI: 50, RSIOk: true,
		Close: 100, PreviousClose: 100, HasPrevious: true,
		SMA50: 100, SMA50Ok: true,
		VWAP: 100, VWAPOk: true,
		Quantity: 0, Cash: 100000, StartingCash: 100000,
		CostBasis: 0,
	}
}

func TestDiscretize_AllNeutral(t *testing.T) {
	tup, ok := Discretize(baseInputs())
	if !ok {
		t.Fatal("expected ok=true")
	}
	want := Tuple{
		RSI: RSINeutral, VsSMA50: PriceAt, VsVWAP: PriceAt,
		Position: PositionFlat, Momentum: MomentumFlat,
		Cash: CashHigh, Exposure: ExposureNone,
	}
	if tup != want {
		t.Errorf("expected %+v, got %+v", want, tup)
	}
}

func TestDiscretize_RSIBoundaries(t *testing.T) {
	cases := []struct {
		rsi  float64
		zone RSIZone
	}{
		{29.9, RSIOversold},
		{30, RSINeutral},
		{70, RSINeutral},
		{70.1, RSIOverbought},
	}
	for _, c := range cases {
		in := baseInputs()
		in.RSI = c.rsi
		tup, ok := Discretize(in)
		if !ok {
			t.Fatalf("rsi=%.1f: expected ok=true", c.rsi)
		}
		if tup.RSI != c.zone {
			t.Errorf("rsi=%.1f: expected zone %s, got %s", c.rsi, c.zone, tup.RSI)
		}
	}
}

func TestDiscretize_PriceVsSMAEpsilonBand(t *testing.T) {
	in := baseInputs()
	in.SMA50 = 100
	in.Close = 100 * (1 - priceEpsilon) // exactly at the lower edge, still AT
	tup, _ := Discretize(in)
	if tup.VsSMA50 != PriceAt {
		t.Errorf("expected AT at epsilon boundary, got %s", tup.VsSMA50)
	}

	in.Close = 100 * (1 - priceEpsilon) - 0.01
	tup, _ = Discretize(in)
	if tup.VsSMA50 != PriceBelow {
		t.Errorf("expected BELOW just past epsilon boundary, got %s", tup.VsSMA50)
	}
}

func TestDiscretize_PositionFlatVsLong(t *testing.T) {
	in := baseInputs()
	in.Quantity = 0
	tup, _ := Discretize(in)
	if tup.Position != PositionFlat {
		t.Errorf("expected FLAT at quantity 0, got %s", tup.Position)
	}
	in.Quantity = 1
	tup, _ = Discretize(in)
	if tup.Position != PositionLong {
		t.Errorf("expected LONG at quantity 1, got %s", tup.Position)
	}
}

func TestDiscretize_MomentumSign(t *testing.T) {
	in := baseInputs()
	in.Close, in.PreviousClose = 101, 100
	tup, _ := Discretize(in)
	if tup.Momentum != MomentumUp {
		t.Errorf("expected UP, got %s", tup.Momentum)
	}
	in.Close, in.PreviousClose = 99, 100
	tup, _ = Discretize(in)
	if tup.Momentum != MomentumDown {
		t.Errorf("expected DOWN, got %s", tup.Momentum)
	}
}

func TestDiscretize_CashBuckets(t *testing.T) {
	cases := []struct {
		ratio  float64
		bucket CashBucket
	}{
		{0.29, CashLow},
		{0.30, CashMedium},
		{0.69, CashMedium},
		{0.70, CashHigh},
	}
	for _, c := range cases {
		in := baseInputs()
		in.StartingCash = 100000
		in.Cash = c.ratio * in.StartingCash
		tup, _ := Discretize(in)
		if tup.Cash != c.bucket {
			t.Errorf("ratio=%.2f: expected %s, got %s", c.ratio, c.bucket, tup.Cash)
		}
	}
}

func TestDiscretize_ExposureBuckets(t *testing.T) {
	cases := []struct {
		ratio    float64
		exposure ExposureBucket
	}{
		{0.04, ExposureNone},
		{0.05, ExposureLight},
		{0.49, ExposureLight},
		{0.50, ExposureHeavy},
		{1.00, ExposureHeavy},
		{1.01, ExposureOverextended},
	}
	for _, c := range cases {
		in := baseInputs()
		in.StartingCash = 100000
		in.CostBasis = c.ratio * in.StartingCash
		tup, _ := Discretize(in)
		if tup.Exposure != c.exposure {
			t.Errorf("ratio=%.2f: expected %s, got %s", c.ratio, c.exposure, tup.Exposure)
		}
	}
}

func TestDiscretize_UndefinedIndicatorForcesFallback(t *testing.T) {
	cases := []Inputs{
		func() Inputs { in := baseInputs(); in.RSIOk = false; return in }(),
		func() Inputs { in := baseInputs(); in.SMA50Ok = false; return in }(),
		func() Inputs { in := baseInputs(); in.VWAPOk = false; return in }(),
		func() Inputs { in := baseInputs(); in.HasPrevious = false; return in }(),
	}
	for i, in := range cases {
		tup, ok := Discretize(in)
		if ok {
			t.Errorf("case %d: expected ok=false", i)
		}
		if tup != Fallback {
			t.Errorf("case %d: expected Fallback tuple, got %+v", i, tup)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	tup, _ := Discretize(baseInputs())
	parsed, err := ParseKey(tup.Key())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != tup {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, tup)
	}
}

func TestParseKey_RejectsMalformedInput(t *testing.T) {
	badKeys := []string{
		"",
		"NEUTRAL|AT|AT|FLAT|FLAT|HIGH",                             // too few fields
		"NEUTRAL|AT|AT|FLAT|FLAT|HIGH|NONE|EXTRA",                   // too many fields
		"'; DROP TABLE q_table; --|AT|AT|FLAT|FLAT|HIGH|NONE",      // injection attempt
		"${exec('rm -rf /')}|AT|AT|FLAT|FLAT|HIGH|NONE",            // template injection attempt
		"NEUTRAL|AT|AT|FLAT|FLAT|HIGH|BOGUS",                        // unrecognized enum value
	}
	for _, k := range badKeys {
		if _, err := ParseKey(k); err == nil {
			t.Errorf("expected error parsing %q, got nil", k)
		}
	}
}

func TestFallback_IsFallback(t *testing.T) {
	if !Fallback.IsFallback() {
		t.Error("expected Fallback.IsFallback() to be true")
	}
	other := Fallback
	other.RSI = RSIOversold
	if other.IsFallback() {
		t.Error("expected modified tuple to not be fallback")
	}
}
