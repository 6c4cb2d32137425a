package delivery

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

func newTestPipeline(t *testing.T, channels []storage.Doc) (*Pipeline, layout.Layout) {
	t.Helper()
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, false); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	doc := storage.Doc{"version": 1, "channels": channels}
	if err := storage.WriteJSON(l.DeliveryRulesPath(), doc); err != nil {
		t.Fatalf("write channels: %v", err)
	}
	return NewPipeline(l), l
}

func appendEvents(t *testing.T, l layout.Layout, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		evt := storage.Doc{
			"eventId": storage.NewID(storage.PrefixAlert),
			"type":    "category_budget",
			"message": "over budget",
		}
		if err := storage.AppendJSONL(l.AlertEventsPath(), evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
}

func TestRunOutboxAdvancesCursor(t *testing.T) {
	p, l := newTestPipeline(t, []storage.Doc{
		{"id": "local", "type": "outbox", "enabled": true},
	})
	appendEvents(t, l, 3)

	res, err := p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(res.Channels))
	}
	ch := res.Channels[0]
	if ch.Pending != 3 || ch.Delivered != 3 || ch.Error != "" {
		t.Fatalf("channel result = %+v", ch)
	}

	outbox, err := storage.ReadJSONL(l.AlertOutboxPath())
	if err != nil {
		t.Fatalf("read outbox: %v", err)
	}
	if len(outbox) != 3 {
		t.Fatalf("outbox has %d entries, want 3", len(outbox))
	}
	if id, _ := outbox[0]["deliveryId"].(string); !strings.HasPrefix(id, "adel_") {
		t.Fatalf("deliveryId = %q", id)
	}
	if outbox[0]["channelId"] != "local" {
		t.Fatalf("channelId = %v", outbox[0]["channelId"])
	}

	// A second pass finds nothing new; a fresh event is picked up next time.
	res, err = p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Channels[0].Pending != 0 || res.Channels[0].Delivered != 0 {
		t.Fatalf("second pass = %+v", res.Channels[0])
	}

	appendEvents(t, l, 1)
	res, err = p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if res.Channels[0].Delivered != 1 {
		t.Fatalf("third pass delivered = %d, want 1", res.Channels[0].Delivered)
	}
}

func TestRunHonorsLimit(t *testing.T) {
	p, l := newTestPipeline(t, []storage.Doc{
		{"id": "local", "type": "outbox", "enabled": true},
	})
	appendEvents(t, l, 5)

	res, err := p.Run(2, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Channels[0].Delivered != 2 {
		t.Fatalf("delivered = %d, want 2", res.Channels[0].Delivered)
	}

	res, err = p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Channels[0].Delivered != 3 {
		t.Fatalf("remainder delivered = %d, want 3", res.Channels[0].Delivered)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	p, l := newTestPipeline(t, []storage.Doc{
		{"id": "local", "type": "outbox", "enabled": true},
	})
	appendEvents(t, l, 2)

	res, err := p.Run(0, nil, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// A dry run reports the deliveries a real pass would make.
	if !res.DryRun || res.Channels[0].Pending != 2 || res.Channels[0].Delivered != 2 {
		t.Fatalf("dry run result = %+v", res)
	}
	if _, err := os.Stat(l.AlertOutboxPath()); !os.IsNotExist(err) {
		t.Fatalf("dry run touched the outbox: %v", err)
	}
	if _, err := os.Stat(l.DeliveryStatePath()); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote state: %v", err)
	}
}

func TestRunChannelTypeDefaultsToOutbox(t *testing.T) {
	p, l := newTestPipeline(t, []storage.Doc{
		{"id": "local", "enabled": true},
	})
	appendEvents(t, l, 2)

	res, err := p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Channels) != 1 {
		t.Fatalf("channels = %+v", res.Channels)
	}
	ch := res.Channels[0]
	if ch.Type != "outbox" || ch.Delivered != 2 || ch.Error != "" {
		t.Fatalf("channel result = %+v", ch)
	}
	outbox, err := storage.ReadJSONL(l.AlertOutboxPath())
	if err != nil || len(outbox) != 2 {
		t.Fatalf("outbox = %v err=%v", outbox, err)
	}
}

func TestRunChannelFilterAndDisabled(t *testing.T) {
	p, l := newTestPipeline(t, []storage.Doc{
		{"id": "a", "type": "outbox", "enabled": true},
		{"id": "b", "type": "outbox", "enabled": true},
		{"id": "c", "type": "outbox", "enabled": false},
	})
	appendEvents(t, l, 1)

	res, err := p.Run(0, []string{"a"}, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Channels) != 1 || res.Channels[0].ChannelID != "a" {
		t.Fatalf("filtered channels = %+v", res.Channels)
	}

	res, err = p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("unfiltered Run: %v", err)
	}
	// "a" already caught up, "b" delivers, disabled "c" never appears.
	if len(res.Channels) != 2 {
		t.Fatalf("channels = %+v", res.Channels)
	}
	for _, ch := range res.Channels {
		if ch.ChannelID == "c" {
			t.Fatal("disabled channel was processed")
		}
	}
}

func TestRunUnknownChannelType(t *testing.T) {
	p, l := newTestPipeline(t, []storage.Doc{
		{"id": "odd", "type": "carrier_pigeon", "enabled": true},
	})
	appendEvents(t, l, 1)

	res, err := p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ch := res.Channels[0]
	if ch.Delivered != 0 || !strings.Contains(ch.Error, "carrier_pigeon") {
		t.Fatalf("channel result = %+v", ch)
	}
}

func TestRunWebhookRetriesAfterFailure(t *testing.T) {
	var healthy bool
	var got int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		got++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, l := newTestPipeline(t, []storage.Doc{
		{"id": "hook", "type": "webhook", "enabled": true, "url": srv.URL},
	})
	appendEvents(t, l, 2)

	res, err := p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ch := res.Channels[0]
	if ch.Delivered != 0 || ch.Error == "" {
		t.Fatalf("failing webhook result = %+v", ch)
	}

	// The cursor did not advance, so recovery replays both events.
	healthy = true
	res, err = p.Run(0, nil, false)
	if err != nil {
		t.Fatalf("recovery Run: %v", err)
	}
	ch = res.Channels[0]
	if ch.Delivered != 2 || ch.Error != "" {
		t.Fatalf("recovered webhook result = %+v", ch)
	}
	if got != 2 {
		t.Fatalf("webhook received %d posts, want 2", got)
	}
}
