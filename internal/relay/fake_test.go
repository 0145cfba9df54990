package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/m3rciful/relaybot/internal/catalog"
	"github.com/m3rciful/relaybot/internal/store"
)

type sent struct {
	chatID   int64
	kind     Kind
	text     string
	fileID   string
	controls []Control
	handle   int
}

type fakeTransport struct {
	mu         sync.Mutex
	next       int
	sent       []sent
	deleted    []int
	failDelete map[int]bool
	failSend   map[int64]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{next: 100, failDelete: map[int]bool{}, failSend: map[int64]error{}}
}

func (f *fakeTransport) record(chatID int64, kind Kind, text, fileID string, controls []Control) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSend[chatID]; err != nil {
		return 0, err
	}
	f.next++
	f.sent = append(f.sent, sent{chatID: chatID, kind: kind, text: text, fileID: fileID, controls: controls, handle: f.next})
	return f.next, nil
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, controls []Control) (int, error) {
	return f.record(chatID, KindText, text, "", controls)
}

func (f *fakeTransport) SendImage(_ context.Context, chatID int64, fileID, caption string, controls []Control) (int, error) {
	return f.record(chatID, KindImage, caption, fileID, controls)
}

func (f *fakeTransport) SendDocument(_ context.Context, chatID int64, fileID, caption string, controls []Control) (int, error) {
	return f.record(chatID, KindFile, caption, fileID, controls)
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _ int64, handle int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, handle)
	if f.failDelete[handle] {
		return fmt.Errorf("delete %d: %w", handle, errors.New("message to delete not found"))
	}
	return nil
}

func (f *fakeTransport) DisplayName(_ context.Context, userID int64) (string, error) {
	return fmt.Sprintf("user%d", userID), nil
}

func (f *fakeTransport) to(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.chatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type gauges struct {
	mu       sync.Mutex
	sessions int
	blocked  int
}

func (g *gauges) SessionsChanged(d int) { g.mu.Lock(); g.sessions += d; g.mu.Unlock() }
func (g *gauges) BlockedChanged(d int)  { g.mu.Lock(); g.blocked += d; g.mu.Unlock() }

func (g *gauges) get() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions, g.blocked
}

type stubCatalog map[string]catalog.Product

func (s stubCatalog) Lookup(ref string) (catalog.Product, bool) {
	p, ok := s[ref]
	return p, ok
}

const operatorID = 1

type fixture struct {
	engine    *Engine
	store     *store.Store
	transport *fakeTransport
	gauges    *gauges
}

func newFixture(t interface{ Fatalf(string, ...any) }) *fixture {
	g := &gauges{}
	st := store.New(store.NewMemory(), g)
	tr := newFakeTransport()
	e, err := New(Options{
		OperatorID: operatorID,
		Sessions:   st.Sessions(),
		Blocks:     st.Blocks(),
		Threads:    st.Threads(),
		Transport:  tr,
		Catalog:    stubCatalog{"prod-1": {ID: "prod-1", Title: "Chair"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{engine: e, store: st, transport: tr, gauges: g}
}
