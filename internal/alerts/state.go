package alerts

import (
	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// RuleState is the per-rule dedup record: a rule fires at most once per
// (rule, periodKey).
type RuleState struct {
	LastTriggeredPeriodKey string `json:"lastTriggeredPeriodKey,omitempty"`
	LastValue              string `json:"lastValue,omitempty"`
}

// State is the stateful side of the engine, small enough for one JSON file.
type State struct {
	Version int                  `json:"version"`
	LastRun string               `json:"lastRun,omitempty"`
	Rules   map[string]RuleState `json:"rules"`
}

func loadState(l layout.Layout) (State, error) {
	st := State{Version: 1, Rules: map[string]RuleState{}}
	if err := storage.ReadJSON(l.AlertStatePath(), &st); err != nil {
		return st, err
	}
	if st.Rules == nil {
		st.Rules = map[string]RuleState{}
	}
	return st, nil
}

func saveState(l layout.Layout, st State) error {
	return storage.WriteJSON(l.AlertStatePath(), st)
}

// RulesConfig is alerts/alert_rules.json; rules stay open maps so unknown
// keys and future rule types pass through untouched.
type RulesConfig struct {
	Currency string        `json:"currency"`
	Rules    []storage.Doc `json:"rules"`
}

func loadRules(l layout.Layout) (RulesConfig, error) {
	cfg := RulesConfig{Currency: "USD"}
	if err := storage.ReadJSON(l.AlertRulesPath(), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
