package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-parley/pkg/engine"
	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/runs"
	"github.com/teslashibe/go-parley/pkg/schema"
)

const llmText = "erkläre mir bitte wie das wetter morgen wird"

type fixture struct {
	srv      *Server
	bus      *events.Bus
	provider *inference.Mock
	engine   *engine.Engine
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	bus := events.New()
	provider := inference.NewMock("Morgen wird es sonnig.")
	gw := inference.NewGateway(provider, inference.WithConfig(
		inference.WithRetry(0, time.Millisecond),
		inference.WithEvents(bus),
	))
	reg := prometheus.NewRegistry()
	base := []engine.Option{
		engine.WithBus(bus),
		engine.WithRuns(runs.NewManager(t.TempDir())),
		engine.WithMetrics(engine.NewMetricsCollector(reg)),
	}
	eng := engine.New(gw, append(base, opts...)...)

	cfg := DefaultConfig()
	cfg.StreamTimeout = 300 * time.Millisecond
	cfg.Version = "test"
	srv := NewServer(eng, WithConfig(cfg), WithGatherer(reg))
	t.Cleanup(func() { srv.Shutdown() })
	return &fixture{srv: srv, bus: bus, provider: provider, engine: eng}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, raw)
		}
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "GET", "/v1/health", "")
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["uptime_s"].(float64); !ok {
		t.Error("uptime_s missing")
	}
}

func TestUtteranceLanguageModel(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "POST", "/v1/utterance", `{"text":"`+llmText+`","mode":"text"}`)
	if code != 200 {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if body["response_text"] != "Morgen wird es sonnig." {
		t.Errorf("response_text = %v", body["response_text"])
	}
	if body["final_text"] != llmText {
		t.Errorf("final_text = %v", body["final_text"])
	}
	if id, _ := body["run_id"].(string); !strings.HasPrefix(id, "run_") {
		t.Errorf("run_id = %v", body["run_id"])
	}
	summary, _ := body["events_summary"].(map[string]any)
	if summary[events.RunStart] != float64(1) || summary[events.ProviderResponse] != float64(1) {
		t.Errorf("events_summary = %v", summary)
	}
	if _, ok := body["error"]; ok {
		t.Errorf("unexpected error: %v", body["error"])
	}
}

func TestUtteranceBlocked(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "POST", "/v1/utterance", `{"text":"rm -rf /"}`)
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	if body["error"] == nil || body["response_text"] != "" {
		t.Errorf("body = %v", body)
	}
	if f.provider.CallCount("Send") != 0 {
		t.Error("provider called for blocked input")
	}
}

func TestUtteranceValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":"   "}`},
		{"bad mode", `{"text":"hallo","mode":"telepathy"}`},
		{"bad json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, "POST", "/v1/utterance", tt.body)
			if code != 400 {
				t.Errorf("status = %d, want 400", code)
			}
			if body["error"] == nil {
				t.Error("error field missing")
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/v1/utterance", `{"text":"`+llmText+`"}`)

	code, body := f.do(t, "GET", "/v1/status", "")
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	if body["state"] != "idle" || body["provider"] != "mock" {
		t.Errorf("body = %v", body)
	}
	if evs, _ := body["recent_events"].([]any); len(evs) == 0 {
		t.Error("recent_events empty")
	}
	providers, _ := body["providers"].([]any)
	if len(providers) != 1 {
		t.Errorf("providers = %v", providers)
	}
}

func TestRefinerToggle(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, "POST", "/v1/refiner", `{"enabled":false}`)
	if code != 200 || body["enabled"] != false {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if f.engine.RefinerEnabled() {
		t.Error("refiner still enabled")
	}
	if len(f.bus.Recent(0)) == 0 || f.bus.Recent(1)[0].Type != events.RefinerToggle {
		t.Error("refiner.toggle not emitted")
	}
	if code, _ := f.do(t, "POST", "/v1/refiner", `{}`); code != 400 {
		t.Errorf("missing field status = %d", code)
	}
	_, body = f.do(t, "GET", "/v1/refiner", "")
	if body["enabled"] != false {
		t.Errorf("GET body = %v", body)
	}
}

func TestConfirmWithoutFlow(t *testing.T) {
	f := newFixture(t)
	if code, _ := f.do(t, "POST", "/v1/confirm", `{"action":"maybe"}`); code != 400 {
		t.Errorf("bad action status = %d", code)
	}
	if code, _ := f.do(t, "POST", "/v1/confirm", `{"action":"send"}`); code != 409 {
		t.Errorf("no flow status = %d", code)
	}
}

func TestRunsAndEvents(t *testing.T) {
	f := newFixture(t)
	_, res := f.do(t, "POST", "/v1/utterance", `{"text":"`+llmText+`"}`)
	id := res["run_id"].(string)

	code, body := f.do(t, "GET", "/v1/runs", "")
	if code != 200 {
		t.Fatalf("status = %d", code)
	}
	list, _ := body["runs"].([]any)
	if len(list) != 1 {
		t.Fatalf("runs = %v", list)
	}

	code, body = f.do(t, "GET", "/v1/runs/"+id, "")
	if code != 200 || body["summary"] == nil {
		t.Errorf("run status = %d, body = %v", code, body)
	}
	if code, _ := f.do(t, "GET", "/v1/runs/run_missing", ""); code != 404 {
		t.Errorf("missing run status = %d", code)
	}
	if code, _ := f.do(t, "GET", "/v1/runs/nope", ""); code != 400 {
		t.Errorf("invalid run status = %d", code)
	}

	_, body = f.do(t, "GET", "/v1/events?type="+events.RunEnd, "")
	evs, _ := body["events"].([]any)
	if len(evs) != 1 {
		t.Errorf("run.end events = %d", len(evs))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/v1/utterance", `{"text":"`+llmText+`"}`)

	resp, err := f.srv.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "parley_runs_total") {
		t.Errorf("metrics missing parley_runs_total:\n%s", raw)
	}
}

func TestStreamReplaysEvents(t *testing.T) {
	f := newFixture(t)
	f.bus.Emit(events.RunStart, map[string]any{"k": "v"}, "run_1")

	resp, err := f.srv.App().Test(httptest.NewRequest("GET", "/v1/stream?replay=1", nil), 5000)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "event: run.start\ndata: {") {
		t.Errorf("stream body = %q", raw)
	}
}

func TestWebSocketUpgradeRequired(t *testing.T) {
	f := newFixture(t)
	resp, err := f.srv.App().Test(httptest.NewRequest("GET", "/v1/ws", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func listen(t *testing.T, f *fixture) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.srv.Serve(ctx, ln)
	return ln.Addr().String()
}

func TestStreamTimeoutRestartsOnEvents(t *testing.T) {
	f := newFixture(t)
	addr := listen(t, f)

	resp, err := http.Get("http://" + addr + "/v1/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// The subscription starts after the headers are sent; emit until the
	// first event comes through.
	ready := false
	for i := 0; i < 100 && !ready; i++ {
		f.bus.Emit(events.RunStart, map[string]any{"warmup": i}, "")
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before subscribing")
			}
			ready = strings.HasPrefix(l, "event: ")
		case <-time.After(20 * time.Millisecond):
		}
	}
	if !ready {
		t.Fatal("stream never delivered an event")
	}

	// 20 events 50ms apart outlast the 300ms timeout several times over.
	const total = 20
	go func() {
		for i := 0; i < total; i++ {
			f.bus.Emit(events.StateChange, map[string]any{"i": i}, "")
			time.Sleep(50 * time.Millisecond)
		}
	}()

	got := 0
	deadline := time.After(5 * time.Second)
	for got < total {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed after %d of %d events", got, total)
			}
			if l == "event: "+events.StateChange {
				got++
			}
		case <-deadline:
			t.Fatalf("received %d of %d events", got, total)
		}
	}

	quiet := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-quiet:
			t.Fatal("idle stream was not closed")
		}
	}
}

func TestEventSocket(t *testing.T) {
	f := newFixture(t)
	addr := listen(t, f)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.srv.EventClients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.bus.Emit(events.StateChange, map[string]any{"new": "recording"}, "")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev schema.RunEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type != events.StateChange {
		t.Errorf("event = %+v, err = %v", ev, err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, typ protocol.MessageType) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestRemoteUtterance(t *testing.T) {
	f := newFixture(t)
	addr := listen(t, f)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/remote/phone", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readUntil(t, conn, protocol.TypeHello)
	var h protocol.HelloData
	if err := hello.ParseData(&h); err != nil || h.ConnectionID != "phone" {
		t.Errorf("hello = %+v, err = %v", h, err)
	}

	req, _ := protocol.NewUtteranceMessage(llmText, schema.OriginText, false)
	data, _ := req.WithID("u1").Bytes()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}

	msg := readUntil(t, conn, protocol.TypeResult)
	if msg.ID != "u1" {
		t.Errorf("result id = %q", msg.ID)
	}
	res, err := msg.GetResult()
	if err != nil {
		t.Fatal(err)
	}
	if res.ResponseText != "Morgen wird es sonnig." {
		t.Errorf("result = %+v", res)
	}
}

func TestRemotePingAndErrors(t *testing.T) {
	f := newFixture(t)
	addr := listen(t, f)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/remote", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readUntil(t, conn, protocol.TypeHello)

	ping, _ := protocol.NewPingMessage("p1")
	data, _ := ping.WithID("p1").Bytes()
	conn.WriteMessage(websocket.TextMessage, data)
	pong := readUntil(t, conn, protocol.TypePong)
	if pong.ID != "p1" {
		t.Errorf("pong id = %q", pong.ID)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance","id":"x"}`))
	errMsg := readUntil(t, conn, protocol.TypeError)
	if errMsg.ID != "x" {
		t.Errorf("error id = %q", errMsg.ID)
	}

	refiner, _ := protocol.NewRefinerMessage(false)
	data, _ = refiner.WithID("r1").Bytes()
	conn.WriteMessage(websocket.TextMessage, data)
	readUntil(t, conn, protocol.TypeAck)
	if f.engine.RefinerEnabled() {
		t.Error("refiner still enabled after remote toggle")
	}
}
