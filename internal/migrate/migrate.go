// Package migrate drives forward-only schema transitions for a data
// directory. Step 1 creates the layout and defaults; step 2 ensures the index
// schema and performs a full rebuild.
package migrate

import (
	"fmt"

	"ledgerflow/internal/index"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// LatestVersion is the newest known schema version.
const LatestVersion = 2

// State is the recorded migration state under meta/schema.json.
type State struct {
	Version   int            `json:"version"`
	UpdatedAt string         `json:"updatedAt,omitempty"`
	History   []HistoryEntry `json:"history"`
}

type HistoryEntry struct {
	Step int    `json:"step"`
	Note string `json:"note"`
	At   string `json:"at"`
}

// Status reports current vs latest version.
type Status struct {
	CurrentVersion int `json:"currentVersion"`
	LatestVersion  int `json:"latestVersion"`
	Pending        int `json:"pending"`
}

// Result reports an applied migration run.
type Result struct {
	FromVersion int   `json:"fromVersion"`
	ToVersion   int   `json:"toVersion"`
	Applied     []int `json:"applied"`
}

// Controller applies migration steps against one data directory.
type Controller struct {
	Layout layout.Layout
	Index  *index.Store
}

func New(l layout.Layout, idx *index.Store) *Controller {
	return &Controller{Layout: l, Index: idx}
}

func (c *Controller) loadState() (State, error) {
	st := State{History: []HistoryEntry{}}
	if err := storage.ReadJSON(c.Layout.SchemaStatePath(), &st); err != nil {
		return st, err
	}
	if st.History == nil {
		st.History = []HistoryEntry{}
	}
	return st, nil
}

// GetStatus loads the migration state and derives pending work.
func (c *Controller) GetStatus() (Status, error) {
	st, err := c.loadState()
	if err != nil {
		return Status{}, err
	}
	pending := LatestVersion - st.Version
	if pending < 0 {
		pending = 0
	}
	return Status{CurrentVersion: st.Version, LatestVersion: LatestVersion, Pending: pending}, nil
}

// MigrateToLatest applies missing steps strictly in ascending order,
// persisting state after each step so a partial failure leaves a consistent
// record. target < 0 means latest.
func (c *Controller) MigrateToLatest(target int) (Result, error) {
	if target < 0 {
		target = LatestVersion
	}
	if target > LatestVersion {
		target = LatestVersion
	}

	st, err := c.loadState()
	if err != nil {
		return Result{}, err
	}
	res := Result{FromVersion: st.Version, ToVersion: st.Version, Applied: []int{}}

	for st.Version < target {
		step := st.Version + 1
		note, err := c.applyStep(step)
		if err != nil {
			return res, fmt.Errorf("migration step %d: %w", step, err)
		}
		st.Version = step
		st.UpdatedAt = storage.NowISO()
		st.History = append(st.History, HistoryEntry{Step: step, Note: note, At: storage.NowISO()})
		if err := storage.WriteJSON(c.Layout.SchemaStatePath(), st); err != nil {
			return res, err
		}
		res.ToVersion = step
		res.Applied = append(res.Applied, step)
	}
	return res, nil
}

func (c *Controller) applyStep(step int) (string, error) {
	switch step {
	case 1:
		if err := layout.InitDataLayout(c.Layout, true); err != nil {
			return "", err
		}
		return "Initialized data layout and defaults.", nil
	case 2:
		if err := layout.InitDataLayout(c.Layout, false); err != nil {
			return "", err
		}
		res, err := c.Index.Rebuild(c.Layout)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Rebuilt index: %d transactions, %d corrections, %d sources.",
			res.TransactionsIndexed, res.CorrectionsIndexed, res.SourcesIndexed), nil
	default:
		return "", fmt.Errorf("unsupported step %d", step)
	}
}
