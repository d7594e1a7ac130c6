package websocket

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
)

func setup(t *testing.T) (*Manager, *database.DB, string) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ws.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	m := New(db, logger.NewNop())
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return m, db, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestSnapshotThenEvents(t *testing.T) {
	m, db, url := setup(t)
	ctx := context.Background()

	if err := db.InsertJob(ctx, models.NewAwaitingJob("job-1", "pay-1", "{}", db.Now())); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, url)

	var snap Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "snapshot" || len(snap.Jobs) != 1 || snap.Metrics == nil || snap.Metrics.AwaitingPaymentJobs != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := m.Publish(ctx, events.ForStatus("job-1", "pay-1", models.StatusRunning, "", time.Now())); err != nil {
		t.Fatal(err)
	}
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != events.TypeRunning || ev.JobID != "job-1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	m, _, url := setup(t)
	conn := dial(t, url)

	var snap Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatal(err)
	}
	if m.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", m.ClientCount())
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for m.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPublishDoesNotWaitForStalledClient(t *testing.T) {
	m, _, url := setup(t)
	conn := dial(t, url)

	// A registered client with no writer stands in for a peer that stopped reading.
	stalled := newClient(conn)
	m.clientsMu.Lock()
	m.clients[stalled] = true
	m.clientsMu.Unlock()

	ctx := context.Background()
	start := time.Now()
	for i := 0; i <= sendBuffer; i++ {
		if err := m.Publish(ctx, events.ForStatus("job-1", "pay-1", models.StatusRunning, "", time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publish blocked for %s", elapsed)
	}

	m.clientsMu.Lock()
	_, still := m.clients[stalled]
	m.clientsMu.Unlock()
	if still {
		t.Error("client with a full queue should be dropped")
	}
}
