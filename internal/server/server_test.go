package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/printjob"
)

type mockPrinterDiscovery struct{}

func (m *mockPrinterDiscovery) GetPrinters(_ bool) ([]printer.Printer, error) {
	return []printer.Printer{{Name: "Office", IsDefault: true}}, nil
}

func (m *mockPrinterDiscovery) GetSummary() printer.Summary {
	return printer.Summary{Status: "ok", DetectedCount: 1}
}

func (m *mockPrinterDiscovery) Details(ps []printer.Printer) []printer.DetailDTO {
	out := make([]printer.DetailDTO, len(ps))
	for i, p := range ps {
		out[i] = printer.DetailDTO{Name: p.Name, IsDefault: p.IsDefault}
	}
	return out
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, &mockPrinterDiscovery{}, nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, "ws" + ts.URL[4:]
}

func dial(t *testing.T, u string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	var welcome Response
	require.NoError(t, wsjson.Read(ctx, conn, &welcome))
	require.Equal(t, "info", welcome.Tipo)
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg any) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
	var resp Response
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	return resp
}

func TestWebSocketOrigin(t *testing.T) {
	t.Run("Restricted Origin", func(t *testing.T) {
		_, u := startServer(t, Config{QueueSize: 10, AllowedOrigins: []string{"http://good.com"}})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{"http://good.com"}},
		})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("Connection from good.com failed: %v", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")

		_, respBad, err := websocket.Dial(ctx, u, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{"http://evil.com"}},
		})
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		if err == nil {
			t.Fatalf("Connection from evil.com succeeded (should fail)")
		}
	})

	t.Run("Same Origin Enforcement", func(t *testing.T) {
		_, u := startServer(t, Config{QueueSize: 10})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, resp, err := websocket.Dial(ctx, u, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("Connection from same origin failed: %v", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")

		_, respBad, err := websocket.Dial(ctx, u, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{"http://external-site.com"}},
		})
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		if err == nil {
			t.Fatalf("Connection from external-site.com succeeded (should fail)")
		}
	})
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"good.com", "*.shop.local:8080"},
		originPatterns([]string{"http://good.com/", " https://*.shop.local:8080", ""}))
}

func TestPrintMessageIsQueued(t *testing.T) {
	srv, u := startServer(t, Config{QueueSize: 4})
	conn := dial(t, u)

	ack := roundTrip(t, conn, map[string]any{
		"tipo": "print",
		"id":   "m1",
		"datos": map[string]any{
			"type": "pdf", "templateId": "T1", "taskId": "J1", "html": "<p>hi</p>",
			"clientType": "relay",
		},
	})
	assert.Equal(t, "ack", ack.Tipo)
	assert.Equal(t, "m1", ack.ID)
	assert.Equal(t, 1, ack.Current)
	assert.Equal(t, 4, ack.Capacity)

	select {
	case job := <-srv.JobQueue():
		assert.Equal(t, "m1", job.ID)
		assert.Equal(t, printjob.KindPDF, job.Job.Kind())
		assert.Equal(t, "T1", job.Job.TemplateID)
		assert.Equal(t, printjob.ClientLocal, job.Job.ClientType, "transport stamps the category")
		assert.NotEmpty(t, job.Job.ClientID)
		assert.NotNil(t, job.Conn)
	case <-time.After(time.Second):
		t.Fatal("job not queued")
	}
}

func TestPrintRejections(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 1, AuthToken: "secret", MaxJobsPerMinute: 100})
	conn := dial(t, u)

	resp := roundTrip(t, conn, map[string]any{"tipo": "print", "id": "a", "datos": map[string]any{}})
	assert.Equal(t, "error", resp.Tipo)
	assert.Equal(t, "unauthorized", resp.Mensaje)

	resp = roundTrip(t, conn, map[string]any{"tipo": "print", "id": "b", "token": "secret"})
	assert.Equal(t, "error", resp.Tipo)
	assert.Contains(t, resp.Mensaje, "datos")

	resp = roundTrip(t, conn, map[string]any{"tipo": "print", "id": "c", "token": "secret", "datos": map[string]any{"type": "html"}})
	assert.Equal(t, "ack", resp.Tipo)

	resp = roundTrip(t, conn, map[string]any{"tipo": "print", "id": "d", "token": "secret", "datos": map[string]any{"type": "html"}})
	assert.Equal(t, "error", resp.Tipo)
	assert.Contains(t, resp.Mensaje, "queue full")

	resp = roundTrip(t, conn, map[string]any{"tipo": "bogus", "id": "e"})
	assert.Equal(t, "error", resp.Tipo)
}

func TestStatusPingAndPrinters(t *testing.T) {
	_, u := startServer(t, Config{QueueSize: 3})
	conn := dial(t, u)

	assert.Equal(t, "pong", roundTrip(t, conn, Message{Tipo: "ping", ID: "p"}).Tipo)

	status := roundTrip(t, conn, Message{Tipo: "status"})
	assert.Equal(t, "Queue: 0/3", status.Mensaje)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, Message{Tipo: "get_printers"}))
	var printers struct {
		Tipo     string              `json:"tipo"`
		Printers []printer.DetailDTO `json:"printers"`
		Summary  printer.Summary     `json:"summary"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &printers))
	assert.Equal(t, "printers", printers.Tipo)
	require.Len(t, printers.Printers, 1)
	assert.Equal(t, "Office", printers.Printers[0].Name)
	assert.Equal(t, 1, printers.Summary.DetectedCount)
}

func TestBroadcastBusy(t *testing.T) {
	srv, u := startServer(t, Config{})
	conn := dial(t, u)

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	srv.BroadcastBusy(dispatch.BusyState{Busy: true, Running: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev struct {
		Tipo  string             `json:"tipo"`
		Datos dispatch.BusyState `json:"datos"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, dispatch.EventBusy, ev.Tipo)
	assert.Equal(t, dispatch.BusyState{Busy: true, Running: 2}, ev.Datos)
}

func TestJobRateLimiter(t *testing.T) {
	rl := NewJobRateLimiter(2)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	clock := time.Now()
	rl.now = func() time.Time { return clock }
	clock = clock.Add(2 * time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"), "window slides")
	assert.NotContains(t, rl.attempts, "10.0.0.2", "idle clients are forgotten")
}
