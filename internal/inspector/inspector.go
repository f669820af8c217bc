// Package inspector serves a read-only view of a running VM's coroutines
// and stacks over HTTP and WebSocket, the optional `--inspect` companion
// surface mentioned in spec §6: nothing here can mutate VM state.
package inspector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/lstf-lang/lstf/internal/jsonval"
	"github.com/lstf-lang/lstf/internal/log"
	"github.com/lstf-lang/lstf/internal/vm"
)

// Inspector wraps a *vm.VM with an HTTP handler exposing its state.
type Inspector struct {
	m   *vm.VM
	log log.Logger
	up  websocket.Upgrader
}

// New wraps m for inspection.
func New(m *vm.VM) *Inspector {
	return &Inspector{
		m:   m,
		log: log.New("component", "inspector"),
		up:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Handler returns the CORS-wrapped HTTP handler to serve, typically on a
// separate loopback-only listener from the language server traffic itself.
func (ins *Inspector) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/coroutines", ins.listCoroutines)
	r.GET("/coroutines/:id", ins.showCoroutine)
	r.GET("/watch", ins.watch)
	return cors.New(cors.Options{AllowedOrigins: []string{"*"}}).Handler(r)
}

type coroutineSummary struct {
	ID            int    `json:"id"`
	PC            uint64 `json:"pc"`
	OutstandingIO int    `json:"outstanding_io"`
	StackDepth    int    `json:"stack_depth"`
}

func summarize(co *vm.Coroutine) coroutineSummary {
	return coroutineSummary{ID: co.ID, PC: co.PC, OutstandingIO: co.OutstandingIO, StackDepth: len(co.Stack.Values)}
}

func (ins *Inspector) listCoroutines(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cos := ins.m.Coroutines()
	out := make([]coroutineSummary, len(cos))
	for i, co := range cos {
		out[i] = summarize(co)
	}
	writeJSON(w, out)
}

func (ins *Inspector) showCoroutine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	for _, co := range ins.m.Coroutines() {
		if fmt.Sprint(co.ID) == id {
			writeJSON(w, struct {
				coroutineSummary
				Stack []string `json:"stack"`
			}{summarize(co), dumpStack(co)})
			return
		}
	}
	http.NotFound(w, r)
}

func dumpStack(co *vm.Coroutine) []string {
	out := make([]string, len(co.Stack.Values))
	for i, v := range co.Stack.Values {
		out[i] = describeValue(v)
	}
	return out
}

func describeValue(v vm.Value) string {
	if j, err := vm.ToJSON(v); err == nil {
		return jsonval.Compact(j)
	}
	return fmt.Sprintf("<%s>", v.Kind)
}

// watch upgrades to a WebSocket and streams a coroutine snapshot on a
// fixed interval until the client disconnects.
func (ins *Inspector) watch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := ins.up.Upgrade(w, r, nil)
	if err != nil {
		ins.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		cos := ins.m.Coroutines()
		out := make([]coroutineSummary, len(cos))
		for i, co := range cos {
			out[i] = summarize(co)
		}
		if err := conn.WriteJSON(out); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
