package delivery

import (
	"fmt"
	"log"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// ChannelState is the durable per-channel delivery position.
type ChannelState struct {
	Cursor               int    `json:"cursor"`
	UpdatedAt            string `json:"updatedAt,omitempty"`
	LastDeliveredEventID string `json:"lastDeliveredEventId,omitempty"`
	LastError            string `json:"lastError,omitempty"`
}

type stateDoc struct {
	Version  int                     `json:"version"`
	Channels map[string]ChannelState `json:"channels"`
}

// ChannelResult reports one channel's progress for a single Run.
type ChannelResult struct {
	ChannelID string `json:"channelId"`
	Type      string `json:"type"`
	Pending   int    `json:"pending"`
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the outcome of one delivery pass across all channels.
type RunResult struct {
	DryRun   bool            `json:"dryRun"`
	Channels []ChannelResult `json:"channels"`
}

// Pipeline drives alert events through the configured channels.
type Pipeline struct {
	Layout layout.Layout
	sinks  map[string]Sink
}

func NewPipeline(l layout.Layout) *Pipeline {
	return &Pipeline{
		Layout: l,
		sinks: map[string]Sink{
			"outbox":  OutboxSink{Layout: l},
			"stdout":  StdoutSink{},
			"webhook": NewWebhookSink(),
		},
	}
}

func (p *Pipeline) loadChannels() ([]storage.Doc, error) {
	rules := storage.Doc{}
	if err := storage.ReadJSON(p.Layout.DeliveryRulesPath(), &rules); err != nil {
		return nil, err
	}
	raw, _ := rules["channels"].([]any)
	channels := make([]storage.Doc, 0, len(raw))
	for _, c := range raw {
		if doc, ok := c.(map[string]any); ok {
			channels = append(channels, doc)
		}
	}
	return channels, nil
}

func (p *Pipeline) loadState() (stateDoc, error) {
	st := stateDoc{Version: 1, Channels: map[string]ChannelState{}}
	if err := storage.ReadJSON(p.Layout.DeliveryStatePath(), &st); err != nil {
		return st, err
	}
	if st.Channels == nil {
		st.Channels = map[string]ChannelState{}
	}
	return st, nil
}

func (p *Pipeline) saveState(st stateDoc) error {
	return storage.WriteJSON(p.Layout.DeliveryStatePath(), st)
}

// Run delivers up to limit pending events per enabled channel. Delivery is
// at least once: the cursor advances only after a sink accepts the event,
// and a failure stops that channel until the next pass. A non-empty
// channelIDs list restricts the pass to those channels. With dryRun=true
// nothing is delivered and no state is written.
func (p *Pipeline) Run(limit int, channelIDs []string, dryRun bool) (RunResult, error) {
	if limit <= 0 {
		limit = 100
	}
	only := map[string]bool{}
	for _, id := range channelIDs {
		only[id] = true
	}
	channels, err := p.loadChannels()
	if err != nil {
		return RunResult{}, err
	}
	state, err := p.loadState()
	if err != nil {
		return RunResult{}, err
	}
	events, err := storage.ReadJSONL(p.Layout.AlertEventsPath())
	if err != nil {
		return RunResult{}, err
	}

	res := RunResult{DryRun: dryRun, Channels: []ChannelResult{}}
	for _, ch := range channels {
		chID, _ := ch["id"].(string)
		chType, _ := ch["type"].(string)
		if chID == "" {
			continue
		}
		if chType == "" {
			chType = "outbox"
		}
		if len(only) > 0 && !only[chID] {
			continue
		}
		if enabled, ok := ch["enabled"].(bool); ok && !enabled {
			continue
		}

		cs := state.Channels[chID]
		if cs.Cursor > len(events) {
			cs.Cursor = len(events)
		}
		pending := events[cs.Cursor:]
		if len(pending) > limit {
			pending = pending[:limit]
		}
		cr := ChannelResult{ChannelID: chID, Type: chType, Pending: len(pending)}

		if dryRun {
			// Report what a real pass would deliver without touching sinks or state.
			cr.Delivered = len(pending)
			res.Channels = append(res.Channels, cr)
			continue
		}

		sink, ok := p.sinks[chType]
		if !ok {
			cr.Error = fmt.Sprintf("unknown channel type %q", chType)
			cs.LastError = cr.Error
			cs.UpdatedAt = storage.NowISO()
			state.Channels[chID] = cs
			res.Channels = append(res.Channels, cr)
			continue
		}

		for _, evt := range pending {
			eventID, _ := evt["eventId"].(string)
			envelope := storage.Doc{
				"deliveryId":  storage.NewID(storage.PrefixDelivery),
				"channelId":   chID,
				"channelType": chType,
				"eventId":     eventID,
				"deliveredAt": storage.NowISO(),
				"event":       evt,
			}
			if err := sink.Deliver(ch, envelope); err != nil {
				log.Printf("[delivery] channel %s: %v", chID, err)
				cr.Error = err.Error()
				cs.LastError = cr.Error
				break
			}
			cs.Cursor++
			cs.LastDeliveredEventID = eventID
			cs.LastError = ""
			cr.Delivered++
		}
		cs.UpdatedAt = storage.NowISO()
		state.Channels[chID] = cs
		res.Channels = append(res.Channels, cr)
	}

	if !dryRun {
		if err := p.saveState(state); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Status reports each configured channel's backlog without delivering.
func (p *Pipeline) Status() (RunResult, error) {
	return p.Run(0, nil, true)
}
