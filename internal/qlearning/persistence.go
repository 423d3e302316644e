package qlearning

import (
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/marketedge/qtrader/internal/state"
)

// document is the persisted form of a Table: a JSON object, never code.
type document struct {
	Hyperparams   documentHyperparams    `json:"hyperparams"`
	TotalEpisodes int64                  `json:"total_episodes"`
	TotalRewards  float64                `json:"total_rewards"`
	AvgReward     float64                `json:"avg_reward"`
	States        map[string]map[string]float64 `json:"states"`
}

type documentHyperparams struct {
	Alpha       float64 `json:"alpha"`
	Gamma       float64 `json:"gamma"`
	Epsilon     float64 `json:"epsilon"`
	EpsilonMin  float64 `json:"epsilon_min"`
	EpsilonDecay float64 `json:"epsilon_decay"`
}

// Save writes t as a JSON document to w.
func (t *Table) Save(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc := document{
		Hyperparams: documentHyperparams{
			Alpha:        t.learningRate,
			Gamma:        t.discountFactor,
			Epsilon:      t.epsilon,
			EpsilonMin:   t.minExploration,
			EpsilonDecay: t.explorationDecay,
		},
		TotalEpisodes: t.totalEpisodes,
		TotalRewards:  t.totalRewards,
		States:        make(map[string]map[string]float64, len(t.values)),
	}
	episodes := t.totalEpisodes
	if episodes < 1 {
		episodes = 1
	}
	doc.AvgReward = t.totalRewards / float64(episodes)

	for key, row := range t.values {
		out := make(map[string]float64, len(row))
		for a, v := range row {
			out[string(a)] = v
		}
		doc.States[key] = out
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("qlearning: encode table: %w", err)
	}
	return nil
}

// Load reads a JSON document from r and builds a Table. Deserialization
// never evaluates code: each state key is parsed with state.ParseKey's
// restricted tokenizer, and any key that fails to parse is skipped with a
// warning to logger (logger may be nil to suppress warnings) rather than
// aborting the load (P7 — a single corrupted or adversarial key must never
// block recovery of the rest of the table).
func Load(r io.Reader, logger *log.Logger) (*Table, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("qlearning: decode table: %w", err)
	}

	t := NewTable(Hyperparams{
		LearningRate:     doc.Hyperparams.Alpha,
		DiscountFactor:   doc.Hyperparams.Gamma,
		ExplorationRate:  doc.Hyperparams.Epsilon,
		ExplorationDecay: doc.Hyperparams.EpsilonDecay,
		MinExploration:   doc.Hyperparams.EpsilonMin,
	})
	t.totalEpisodes = doc.TotalEpisodes
	t.totalRewards = doc.TotalRewards

	for key, actions := range doc.States {
		tup, err := state.ParseKey(key)
		if err != nil {
			if logger != nil {
				logger.Printf("qlearning: skipping unparseable state key %q: %v", key, err)
			}
			continue
		}
		row := make(map[Action]float64, len(actions))
		for actionStr, v := range actions {
			switch Action(actionStr) {
			case ActionHold, ActionBuy, ActionSell:
				row[Action(actionStr)] = v
			default:
				if logger != nil {
					logger.Printf("qlearning: skipping unrecognized action %q for state %q", actionStr, key)
				}
			}
		}
		t.values[tup.Key()] = row
	}

	return t, nil
}
