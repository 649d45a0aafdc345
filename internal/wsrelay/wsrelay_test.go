package wsrelay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/ht/internal/bus"
	"github.com/user/ht/internal/event"
)

// fakeSession is a minimal Subscriber that lets tests publish events
// directly to whatever the relay subscribed.
type fakeSession struct {
	b        *bus.Bus
	initData event.InitData
}

func (f *fakeSession) Subscribe(types map[event.Type]bool, queueSize int) *bus.Subscriber {
	var seed func() event.Event
	if len(types) == 0 || types[event.TypeInit] {
		seed = func() event.Event { return event.Init(f.initData) }
	}
	return f.b.SubscribeSeeded(types, queueSize, seed)
}

func (f *fakeSession) Unsubscribe(sub *bus.Subscriber) {
	f.b.Unsubscribe(sub)
}

func TestIndexServesHTML(t *testing.T) {
	fs := &fakeSession{b: bus.New()}
	r := New(fs, nil)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestEventsEndpointDeliversInitThenOutput(t *testing.T) {
	fs := &fakeSession{b: bus.New(), initData: event.InitData{Cols: 80, Rows: 24}}
	r := New(fs, nil)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != event.TypeInit {
		t.Fatalf("expected init event first, got %v", ev.Type)
	}

	fs.b.Publish(event.Output(event.OutputData{Seq: "hello"}))

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != event.TypeOutput {
		t.Fatalf("expected output event, got %v", ev.Type)
	}
}

func TestEventsEndpointHonorsSubFilter(t *testing.T) {
	fs := &fakeSession{b: bus.New()}
	r := New(fs, nil)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?sub=resize"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	fs.b.Publish(event.Output(event.OutputData{Seq: "ignored"}))
	fs.b.Publish(event.Resize(event.ResizeData{Cols: 10, Rows: 5}))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != event.TypeResize {
		t.Fatalf("expected only resize to be delivered, got %v", ev.Type)
	}
}

func TestEventsEndpointUnsubscribesOnDisconnect(t *testing.T) {
	fs := &fakeSession{b: bus.New()}
	r := New(fs, nil)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Read init: %v", err)
	}
	if got := fs.b.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber while connected, got %d", got)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.After(5 * time.Second)
	for {
		if fs.b.SubscriberCount() == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("subscriber was not removed after client disconnected")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestALiSEndpointSendsArrayFramedOutput(t *testing.T) {
	fs := &fakeSession{b: bus.New(), initData: event.InitData{Cols: 80, Rows: 24, Seq: "replay-bytes"}}
	r := New(fs, nil)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alis"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var initFrame alisInit
	if err := json.Unmarshal(data, &initFrame); err != nil {
		t.Fatalf("unmarshal init frame: %v", err)
	}
	if initFrame.Cols != 80 || initFrame.Init != "replay-bytes" {
		t.Fatalf("unexpected init frame: %+v", initFrame)
	}

	fs.b.Publish(event.Output(event.OutputData{Seq: "hi"}))

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatalf("expected array-shaped output frame, got %q: %v", data, err)
	}
	if len(arr) != 3 || arr[1] != "o" || arr[2] != "hi" {
		t.Fatalf("unexpected output frame: %+v", arr)
	}
}
