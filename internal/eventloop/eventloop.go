// Package eventloop wires the three LSP vmcalls (spec §4.10: connect,
// td_open, diagnostics) into the VM as asynchronous VMCallHandlers,
// bridging each coroutine's outstanding_io counter to real subprocess I/O
// carried over package jsonrpc.
package eventloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/config"
	"github.com/lstf-lang/lstf/internal/jsonrpc"
	"github.com/lstf-lang/lstf/internal/jsonval"
	"github.com/lstf-lang/lstf/internal/log"
	"github.com/lstf-lang/lstf/internal/vm"
)

// recentDiagnosticsPerLanguage bounds how many language servers' most
// recent publishDiagnostics payload the event loop remembers, so a
// `diagnostics` call racing a notification that already arrived doesn't
// block forever waiting for one that will never come again.
const recentDiagnosticsPerLanguage = 32

// EventLoop owns the live language-server connections a running program has
// opened and pumps their async results back into the VM.
type EventLoop struct {
	cfg *config.Config
	log log.Logger

	mu      sync.Mutex
	peers   map[string]*jsonrpc.Peer // keyed by language ID
	waiters map[string][]waiter      // coroutines blocked in `diagnostics`, keyed by language ID
	recent  *lru.Cache               // language ID -> most recent unclaimed vm.Value
}

// New creates an event loop backed by cfg's server table.
func New(cfg *config.Config) *EventLoop {
	recent, _ := lru.New(recentDiagnosticsPerLanguage)
	return &EventLoop{
		cfg:     cfg,
		log:     log.New("component", "eventloop"),
		peers:   make(map[string]*jsonrpc.Peer),
		waiters: make(map[string][]waiter),
		recent:  recent,
	}
}

// Register installs this event loop's three vmcall handlers on m.
func (el *EventLoop) Register(m *vm.VM) {
	m.RegisterVMCall(bytecode.VMCallConnect, el.handleConnect)
	m.RegisterVMCall(bytecode.VMCallTextDocumentOpen, el.handleTDOpen)
	m.RegisterVMCall(bytecode.VMCallDiagnostics, el.handleDiagnostics)
}

// handleConnect implements `connect(language_id)`: launches (or reuses) the
// language server configured for language_id, asynchronously, incrementing
// the calling coroutine's outstanding_io until the subprocess is up.
func (el *EventLoop) handleConnect(m *vm.VM, co *vm.Coroutine, hasResult bool) error {
	arg, err := co.Stack.Pop()
	if err != nil {
		return err
	}
	lang := arg.S

	el.mu.Lock()
	if _, ok := el.peers[lang]; ok {
		el.mu.Unlock()
		if hasResult {
			co.Stack.Push(vm.Bool(true))
		}
		return nil
	}
	el.mu.Unlock()

	sc, ok := el.cfg.Servers[lang]
	if !ok {
		return fmt.Errorf("eventloop: no server configured for language %q", lang)
	}

	co.OutstandingIO++
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), el.cfg.Timeouts.Connect())
		defer cancel()
		peer, err := jsonrpc.Connect(ctx, sc.Command, sc.Args, sc.Env)
		result := vm.Bool(err == nil)
		if err != nil {
			el.log.Error("connect failed", "language", lang, "err", err)
		} else {
			el.mu.Lock()
			el.peers[lang] = peer
			el.mu.Unlock()
			peer.OnNotification("textDocument/publishDiagnostics", func(raw json.RawMessage) {
				el.publishDiagnostics(lang, raw)
			})
		}
		m.Resume(co, result, hasResult)
	}()
	return nil
}

// handleTDOpen implements `td_open(language_id, uri, text)`: sends the LSP
// `textDocument/didOpen` notification. It has no result to wait on, so it
// never increments outstanding_io.
func (el *EventLoop) handleTDOpen(m *vm.VM, co *vm.Coroutine, hasResult bool) error {
	text, err := co.Stack.Pop()
	if err != nil {
		return err
	}
	uri, err := co.Stack.Pop()
	if err != nil {
		return err
	}
	langV, err := co.Stack.Pop()
	if err != nil {
		return err
	}
	peer := el.peerFor(langV.S)
	if peer == nil {
		return fmt.Errorf("eventloop: td_open: not connected to %q", langV.S)
	}
	err = peer.Notify("textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        uri.S,
			"languageId": langV.S,
			"version":    1,
			"text":       text.S,
		},
	})
	if hasResult {
		co.Stack.Push(vm.Bool(err == nil))
	}
	return err
}

// handleDiagnostics implements `diagnostics(language_id)`: if a
// `publishDiagnostics` payload for that server is already cached it is
// returned at once; otherwise the calling coroutine is suspended until the
// next notification arrives. Either way the result is the whole
// publishDiagnostics params object, converted by vm.FromJSON.
func (el *EventLoop) handleDiagnostics(m *vm.VM, co *vm.Coroutine, hasResult bool) error {
	arg, err := co.Stack.Pop()
	if err != nil {
		return err
	}
	lang := arg.S
	peer := el.peerFor(lang)
	if peer == nil {
		return fmt.Errorf("eventloop: diagnostics: not connected to %q", lang)
	}

	el.mu.Lock()
	if cached, ok := el.recent.Get(lang); ok {
		el.recent.Remove(lang)
		el.mu.Unlock()
		if hasResult {
			co.Stack.Push(cached.(vm.Value))
		}
		return nil
	}
	co.OutstandingIO++
	el.waiters[lang] = append(el.waiters[lang], waiter{co: co, m: m, hasResult: hasResult})
	el.mu.Unlock()
	return nil
}

type waiter struct {
	co        *vm.Coroutine
	m         *vm.VM
	hasResult bool
}

func (el *EventLoop) peerFor(lang string) *jsonrpc.Peer {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.peers[lang]
}

// publishDiagnostics is called, bound to its owning language ID, for every
// `textDocument/publishDiagnostics` notification: it parses the raw JSON
// params and resumes every coroutine currently waiting on a `diagnostics`
// call for that language server.
func (el *EventLoop) publishDiagnostics(lang string, raw []byte) {
	jv, err := jsonval.Parse(string(raw))
	if err != nil {
		el.log.Error("publishDiagnostics: bad params", "language", lang, "err", err)
		return
	}
	result := vm.FromJSON(jv)

	el.mu.Lock()
	waiters := el.waiters[lang]
	el.waiters[lang] = nil
	if len(waiters) == 0 {
		el.recent.Add(lang, result)
	}
	el.mu.Unlock()

	for _, w := range waiters {
		w.m.Resume(w.co, result, w.hasResult)
	}
}

// Close shuts down every live server connection.
func (el *EventLoop) Close() {
	el.mu.Lock()
	defer el.mu.Unlock()
	for lang, peer := range el.peers {
		if err := peer.Close(); err != nil {
			el.log.Warn("closing peer", "language", lang, "err", err)
		}
	}
}
