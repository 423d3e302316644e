// Package qlearning implements the tabular Q-learning engine: action
// selection, the TD(0) update, epsilon decay, and safe persistence of the
// learned table.
package qlearning

import (
	"log"
	"math/rand/v2"
	"sync"

	"github.com/marketedge/qtrader/internal/state"
)

// Action is one of the three decisions the agent can take.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// actionPriority lists actions in tie-break order: HOLD beats BUY beats
// SELL, biasing ties toward conservatism.
var actionPriority = []Action{ActionHold, ActionBuy, ActionSell}

// Hyperparams are the tunable Q-learning parameters.
type Hyperparams struct {
	LearningRate     float64
	DiscountFactor   float64
	ExplorationRate  float64
	ExplorationDecay float64
	MinExploration   float64
}

// DefaultHyperparams mirrors the defaults named in the spec.
var DefaultHyperparams = Hyperparams{
	LearningRate:     0.1,
	DiscountFactor:   0.95,
	ExplorationRate:  1.0,
	ExplorationDecay: 0.995,
	MinExploration:   0.01,
}

// Table is a per-symbol Q-table: state key -> action -> value. Missing
// entries read as 0.0. Safe for concurrent use.
type Table struct {
	mu sync.Mutex

	values map[string]map[Action]float64

	learningRate     float64
	discountFactor    float64
	epsilon          float64
	explorationDecay float64
	minExploration   float64

	totalEpisodes int64
	totalRewards  float64
}

// NewTable creates an empty Q-table seeded with hp.
func NewTable(hp Hyperparams) *Table {
	return &Table{
		values:           make(map[string]map[Action]float64),
		learningRate:     hp.LearningRate,
		discountFactor:   hp.DiscountFactor,
		epsilon:          hp.ExplorationRate,
		explorationDecay: hp.ExplorationDecay,
		minExploration:   hp.MinExploration,
	}
}

// Epsilon returns the current exploration rate.
func (t *Table) Epsilon() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epsilon
}

// TotalEpisodes returns the number of Q updates applied so far.
func (t *Table) TotalEpisodes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalEpisodes
}

// TotalRewards returns the cumulative reward across all updates.
func (t *Table) TotalRewards() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRewards
}

// AvgReward returns TotalRewards / max(TotalEpisodes, 1).
func (t *Table) AvgReward() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	episodes := t.totalEpisodes
	if episodes < 1 {
		episodes = 1
	}
	return t.totalRewards / float64(episodes)
}

// valuesForLocked returns the action-value map for key, never mutating the
// table for a read of an unseen key. Caller must hold t.mu.
func (t *Table) valuesForLocked(key string) map[Action]float64 {
	if v, ok := t.values[key]; ok {
		return v
	}
	return nil
}

func (t *Table) get(key string, a Action) float64 {
	if row, ok := t.values[key]; ok {
		return row[a]
	}
	return 0
}

// best returns the tie-broken best action and its value among row (nil rows
// read as all-zero).
func best(row map[Action]float64) (Action, float64) {
	bestAction := actionPriority[0]
	bestValue := row[actionPriority[0]]
	for _, a := range actionPriority[1:] {
		if v := row[a]; v > bestValue {
			bestValue = v
			bestAction = a
		}
	}
	return bestAction, bestValue
}

// SelectAction chooses an action for tup. If tup is the undefined fallback
// state, it always returns (HOLD, false, nil) — the caller must not invoke
// Learn for this step. Otherwise, with probability epsilon (skipped
// entirely in exploit mode) it explores uniformly over the three actions;
// otherwise it exploits the tie-broken argmax. rng must not be nil.
func (t *Table) SelectAction(tup state.Tuple, exploit bool, rng *rand.Rand) (action Action, exploring bool, values map[Action]float64) {
	if tup.IsFallback() {
		return ActionHold, false, nil
	}

	t.mu.Lock()
	epsilon := t.epsilon
	row := t.valuesForLocked(tup.Key())
	snapshot := make(map[Action]float64, 3)
	for _, a := range actionPriority {
		snapshot[a] = row[a]
	}
	t.mu.Unlock()

	if !exploit && rng.Float64() < epsilon {
		a := actionPriority[rng.IntN(len(actionPriority))]
		return a, true, snapshot
	}

	a, _ := best(snapshot)
	return a, false, snapshot
}

// Learn applies the TD(0) update for the transition
// (tup, a, reward, next, done) and, unless exploit is set, decays epsilon.
// Callers must never invoke this for a fallback tup. next is read only when
// done is false, so a terminal update may pass any tuple (e.g. the fallback).
func (t *Table) Learn(tup state.Tuple, a Action, reward float64, next state.Tuple, done, exploit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := tup.Key()
	row, ok := t.values[key]
	if !ok {
		row = make(map[Action]float64, 3)
		t.values[key] = row
	}

	var bootstrap float64
	if !done {
		nextRow := t.values[next.Key()]
		_, bootstrap = best(nextRow)
	}

	current := row[a]
	td := reward + t.discountFactor*bootstrap - current
	row[a] = current + t.learningRate*td

	t.totalEpisodes++
	t.totalRewards += reward

	if !exploit {
		t.epsilon = max(t.minExploration, t.epsilon*t.explorationDecay)
	}
}

// State is the serializable snapshot of a Table: the learned values plus
// the decayed epsilon and running counters, so a restart resumes exactly
// where persistence last left off instead of re-exploring from scratch.
type State struct {
	Values        map[string]map[Action]float64 `json:"values"`
	Epsilon       float64                        `json:"epsilon"`
	TotalEpisodes int64                           `json:"total_episodes"`
	TotalRewards  float64                         `json:"total_rewards"`
}

// Snapshot captures the table's current state for persistence.
func (t *Table) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	values := make(map[string]map[Action]float64, len(t.values))
	for key, row := range t.values {
		rowCopy := make(map[Action]float64, len(row))
		for a, v := range row {
			rowCopy[a] = v
		}
		values[key] = rowCopy
	}

	return State{
		Values:        values,
		Epsilon:       t.epsilon,
		TotalEpisodes: t.totalEpisodes,
		TotalRewards:  t.totalRewards,
	}
}

// Restore builds a Table from a previously-captured State, applying hp's
// learning-rate/discount/decay parameters (these are not persisted — they
// come from the current process's configuration, not the snapshot). Each
// state key is checked with state.ParseKey; a key that fails to parse is
// skipped with a warning on the standard logger.
func Restore(hp Hyperparams, s State) *Table {
	t := NewTable(hp)
	for key, row := range s.Values {
		tup, err := state.ParseKey(key)
		if err != nil {
			log.Printf("qlearning: skipping unparseable state key %q: %v", key, err)
			continue
		}
		t.values[tup.Key()] = row
	}
	if s.Epsilon > 0 {
		t.epsilon = s.Epsilon
	}
	t.totalEpisodes = s.TotalEpisodes
	t.totalRewards = s.TotalRewards
	return t
}
