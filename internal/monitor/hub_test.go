package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/stonectl/internal/ble/protocol"
	"github.com/chaz8081/stonectl/internal/scan"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", h.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	a, b := dial(t, srv), dial(t, srv)
	waitForClients(t, hub, 2)

	rec := &scan.Record{
		Address: "aa:bb:cc:dd:ee:01",
		RSSI:    -48,
		Mode:    scan.ModeNormal,
		Data:    &protocol.ServiceData{DeviceID: 12},
	}
	hub.Consume(scan.Event{Type: scan.EventValidated, Record: rec, Validated: true})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got struct {
			Type    string `json:"type"`
			Payload struct {
				Address   string `json:"address"`
				RSSI      int    `json:"rssi"`
				Mode      string `json:"mode"`
				DeviceID  int    `json:"crownstoneId"`
				Validated bool   `json:"validated"`
			} `json:"payload"`
		}
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if got.Type != "validated" || got.Payload.Address != rec.Address || got.Payload.Mode != "normal" ||
			got.Payload.DeviceID != 12 || !got.Payload.Validated {
			t.Errorf("message = %+v", got)
		}
	}
}

func TestClosedClientIsDropped(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}

func TestEventMessageNewData(t *testing.T) {
	rec := &scan.Record{Address: "aa:bb:cc:dd:ee:01", Mode: scan.ModeSetup, Data: &protocol.ServiceData{}}
	msg := EventMessage(scan.Event{Type: scan.EventNewData, Record: rec, Validated: true})
	if msg.Type != "new_data" {
		t.Errorf("Type = %q, want new_data", msg.Type)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(raw), "serviceData") {
		t.Errorf("new data message should carry only the summary: %s", raw)
	}
	if !strings.Contains(string(raw), `"setupMode":true`) {
		t.Errorf("summary missing setup flag: %s", raw)
	}
}
