// Package wsrelay bridges the event bus to HTTP: a static preview page,
// a plain event feed over WebSocket, and an Asciinema Live Stream
// ("ALiS") feed for external players.
package wsrelay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/ht/internal/bus"
	"github.com/user/ht/internal/event"
)

// Subscriber is the subset of htsession.Loop the relay needs: the
// ability to register a new bus subscriber seeded with an Init event,
// and to remove it again once the connection using it closes.
type Subscriber interface {
	Subscribe(types map[event.Type]bool, queueSize int) *bus.Subscriber
	Unsubscribe(sub *bus.Subscriber)
}

// Relay serves the HTTP endpoints described in the external interfaces:
// GET /, GET /ws/events, GET /ws/alis.
type Relay struct {
	sub      Subscriber
	log      *slog.Logger
	pageHTML []byte
}

// New builds a Relay backed by sub.
func New(sub Subscriber, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{sub: sub, log: logger, pageHTML: []byte(previewPage)}
}

// Handler returns the mux to pass to an http.Server.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleIndex)
	mux.HandleFunc("/ws/events", r.handleEvents)
	mux.HandleFunc("/ws/alis", r.handleALiS)
	return mux
}

func (r *Relay) handleIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(r.pageHTML)
}

// handleEvents streams one text frame per event matching ?sub=<types>
// (comma-separated; empty or absent means all types).
func (r *Relay) handleEvents(w http.ResponseWriter, req *http.Request) {
	filter, err := parseFilter(req.URL.Query().Get("sub"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub := r.sub.Subscribe(filter, bus.DefaultQueueSize)
	defer r.sub.Unsubscribe(sub)

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		r.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := conn.CloseRead(req.Context())

	send := make(chan []byte, bus.DefaultQueueSize)
	go pumpEvents(sub, send)

	writePump(ctx, conn, send)
}

// handleALiS streams the Asciinema Live Stream JSON variant: an init
// header frame, then "o" output frames and "r" resize frames, each
// timestamped with seconds since the connection started.
func (r *Relay) handleALiS(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		r.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	sub := r.sub.Subscribe(map[event.Type]bool{
		event.TypeInit:   true,
		event.TypeOutput: true,
		event.TypeResize: true,
	}, bus.DefaultQueueSize)
	defer r.sub.Unsubscribe(sub)

	start := time.Now()
	ctx := conn.CloseRead(req.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			frame, ok := alisFrame(ev, time.Since(start))
			if !ok {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}
}

// alisFrame renders one bus event as an ALiS wire frame. Init renders
// as the object-shaped header; Output/Resize render as array frames,
// matching the reference implementation's actual wire format rather
// than the looser prose description of it.
func alisFrame(ev event.Event, elapsed time.Duration) ([]byte, bool) {
	secs := elapsed.Seconds()
	switch ev.Type {
	case event.TypeInit:
		var d event.InitData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, false
		}
		frame, _ := json.Marshal(alisInit{Cols: d.Cols, Rows: d.Rows, Time: 0, Init: d.Seq})
		return frame, true
	case event.TypeOutput:
		var d event.OutputData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, false
		}
		frame, _ := json.Marshal([]any{secs, "o", d.Seq})
		return frame, true
	case event.TypeResize:
		var d event.ResizeData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, false
		}
		frame, _ := json.Marshal([]any{secs, "r", strconv.Itoa(d.Cols) + "x" + strconv.Itoa(d.Rows)})
		return frame, true
	default:
		return nil, false
	}
}

type alisInit struct {
	Cols int     `json:"cols"`
	Rows int     `json:"rows"`
	Time float64 `json:"time"`
	Init string  `json:"init"`
}

// pumpEvents marshals each event from sub and forwards it to send,
// dropping on a full send buffer rather than blocking the bus.
func pumpEvents(sub *bus.Subscriber, send chan<- []byte) {
	defer close(send)
	for ev := range sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case send <- data:
		default:
		}
	}
}

// writePump drains send onto conn as text frames until ctx is done or
// the connection errors, with a keepalive ping on idle.
func writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// parseFilter turns a comma-separated "sub" query parameter into an
// event.Type filter set. Blank input subscribes to every type.
func parseFilter(sub string) (map[event.Type]bool, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return nil, nil
	}
	return event.ParseTypes(sub)
}

const previewPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>ht</title></head>
<body>
<pre id="view"></pre>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws/events");
const view = document.getElementById("view");
ws.onmessage = (msg) => {
	const ev = JSON.parse(msg.data);
	if (ev.type === "init" || ev.type === "snapshot") {
		view.textContent = JSON.parse(JSON.stringify(ev.data)).text;
	}
};
</script>
</body>
</html>
`
