package qlearning

import (
	"bytes"
	"log"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/marketedge/qtrader/internal/state"
)

func testTuple() state.Tuple {
	return state.Tuple{
		RSI: state.RSIOversold, VsSMA50: state.PriceBelow, VsVWAP: state.PriceBelow,
		Position: state.PositionFlat, Momentum: state.MomentumUp,
		Cash: state.CashHigh, Exposure: state.ExposureNone,
	}
}

func TestSelectAction_FallbackAlwaysHolds(t *testing.T) {
	table := NewTable(DefaultHyperparams)
	rng := rand.New(rand.NewPCG(1, 1))

	a, exploring, values := table.SelectAction(state.Fallback, false, rng)
	if a != ActionHold {
		t.Errorf("expected HOLD for fallback state, got %s", a)
	}
	if exploring {
		t.Error("fallback selection must not be marked exploring")
	}
	if values != nil {
		t.Error("expected nil values for fallback state")
	}
}

func TestSelectAction_TieBreakPriority(t *testing.T) {
	table := NewTable(Hyperparams{LearningRate: 0.1, DiscountFactor: 0.95, MinExploration: 0, ExplorationDecay: 1})
	rng := rand.New(rand.NewPCG(1, 1))
	tup := testTuple()

	// All-zero row (unseen state): exploitation must prefer HOLD.
	a, exploring, _ := table.SelectAction(tup, true, rng)
	if a != ActionHold {
		t.Errorf("expected tie-break HOLD on all-zero row, got %s", a)
	}
	if exploring {
		t.Error("exploit mode must never mark a selection as exploring")
	}
}

func TestSelectAction_ExploitNeverExplores(t *testing.T) {
	table := NewTable(Hyperparams{LearningRate: 0.1, DiscountFactor: 0.95, ExplorationRate: 1.0, MinExploration: 1.0, ExplorationDecay: 1})
	rng := rand.New(rand.NewPCG(1, 1))
	tup := testTuple()

	for i := 0; i < 50; i++ {
		_, exploring, _ := table.SelectAction(tup, true, rng)
		if exploring {
			t.Fatal("exploit mode selected an exploring action despite epsilon=1.0")
		}
	}
}

func TestLearn_TDUpdateMovesTowardTarget(t *testing.T) {
	table := NewTable(Hyperparams{LearningRate: 0.5, DiscountFactor: 0.9, MinExploration: 0.01, ExplorationDecay: 1})
	tup := testTuple()
	next := tup
	next.Momentum = state.MomentumDown

	table.Learn(tup, ActionBuy, 10, next, false, false)
	got := table.get(tup.Key(), ActionBuy)
	want := 0.5 * 10 // td = 10 + 0.9*0 - 0 = 10; update = 0 + 0.5*10
	if got != want {
		t.Errorf("expected Q=%.4f after one update, got %.4f", want, got)
	}
}

func TestLearn_DoneSuppressesBootstrap(t *testing.T) {
	table := NewTable(Hyperparams{LearningRate: 1.0, DiscountFactor: 0.9, MinExploration: 0.01, ExplorationDecay: 1})
	tup := testTuple()
	next := tup
	next.Momentum = state.MomentumDown

	// Seed a high value for next state's best action so a leaking bootstrap
	// would be visible.
	table.Learn(next, ActionHold, 1000, next, true, true)

	table.Learn(tup, ActionSell, 5, next, true, false)
	got := table.get(tup.Key(), ActionSell)
	if got != 5 {
		t.Errorf("expected terminal update to equal reward exactly (no bootstrap), got %.4f", got)
	}
}

func TestLearn_EpsilonDecaysAndFloors(t *testing.T) {
	table := NewTable(Hyperparams{LearningRate: 0.1, DiscountFactor: 0.95, ExplorationRate: 0.02, ExplorationDecay: 0.5, MinExploration: 0.01})
	tup := testTuple()

	table.Learn(tup, ActionHold, 0, tup, true, false)
	if table.Epsilon() != 0.01 {
		t.Errorf("expected epsilon to floor at 0.01, got %.4f", table.Epsilon())
	}
}

func TestLearn_ExploitDoesNotDecayEpsilon(t *testing.T) {
	table := NewTable(Hyperparams{LearningRate: 0.1, DiscountFactor: 0.95, ExplorationRate: 0.5, ExplorationDecay: 0.5, MinExploration: 0.01})
	tup := testTuple()

	table.Learn(tup, ActionHold, 0, tup, true, true)
	if table.Epsilon() != 0.5 {
		t.Errorf("expected epsilon unchanged under exploit, got %.4f", table.Epsilon())
	}
}

func TestLearn_BookkeepingAccumulates(t *testing.T) {
	table := NewTable(DefaultHyperparams)
	tup := testTuple()

	table.Learn(tup, ActionHold, -0.01, tup, false, false)
	table.Learn(tup, ActionBuy, 2.5, tup, false, false)

	if table.TotalEpisodes() != 2 {
		t.Errorf("expected 2 episodes, got %d", table.TotalEpisodes())
	}
	wantRewards := -0.01 + 2.5
	if table.TotalRewards() != wantRewards {
		t.Errorf("expected total rewards %.4f, got %.4f", wantRewards, table.TotalRewards())
	}
	wantAvg := wantRewards / 2
	if table.AvgReward() != wantAvg {
		t.Errorf("expected avg reward %.4f, got %.4f", wantAvg, table.AvgReward())
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	table := NewTable(DefaultHyperparams)
	tup := testTuple()
	table.Learn(tup, ActionBuy, 3.0, tup, false, false)

	var buf bytes.Buffer
	if err := table.Save(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := Load(&buf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.get(tup.Key(), ActionBuy) != table.get(tup.Key(), ActionBuy) {
		t.Errorf("round-tripped value mismatch: got %.4f, want %.4f",
			loaded.get(tup.Key(), ActionBuy), table.get(tup.Key(), ActionBuy))
	}
	if loaded.TotalEpisodes() != table.TotalEpisodes() {
		t.Errorf("expected total episodes to round-trip")
	}
}

func TestLoad_SkipsUnparseableKeysWithWarning(t *testing.T) {
	raw := `{
		"hyperparams": {"alpha":0.1,"gamma":0.95,"epsilon":1.0,"epsilon_min":0.01,"epsilon_decay":0.995},
		"total_episodes": 1,
		"total_rewards": 1,
		"avg_reward": 1,
		"states": {
			"NEUTRAL|AT|AT|FLAT|FLAT|HIGH|NONE": {"HOLD": 1.5},
			"'; DROP TABLE q; --|AT|AT|FLAT|FLAT|HIGH|NONE": {"BUY": 99}
		}
	}`

	var logBuf bytes.Buffer
	logger := log.New(&logBuf, "", 0)

	loaded, err := Load(strings.NewReader(raw), logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.values) != 1 {
		t.Fatalf("expected exactly 1 valid state loaded, got %d", len(loaded.values))
	}
	if !strings.Contains(logBuf.String(), "skipping unparseable state key") {
		t.Error("expected a warning to be logged for the unparseable key")
	}
}
