package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	tg "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/internal/catalog"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/store"

	tele "gopkg.in/telebot.v4"
)

const (
	testToken  = "123456:TEST"
	operatorID = int64(1)
)

type apiCall struct {
	method string
	params map[string]string
}

func (c apiCall) chatID() int64 {
	id, _ := strconv.ParseInt(c.params["chat_id"], 10, 64)
	return id
}

// fakeAPI answers Bot API requests the way Telegram does for the calls the
// relay makes and records every request.
type fakeAPI struct {
	mu         sync.Mutex
	next       int
	calls      []apiCall
	names      map[int64]string
	failDelete map[string]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{next: 500, names: map[int64]string{}, failDelete: map[string]bool{}}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	params := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
		}
	} else {
		body, _ := io.ReadAll(r.Body)
		var raw map[string]any
		_ = json.Unmarshal(body, &raw)
		for k, v := range raw {
			switch tv := v.(type) {
			case string:
				params[k] = tv
			case float64:
				params[k] = strconv.FormatInt(int64(tv), 10)
			default:
				b, _ := json.Marshal(tv)
				params[k] = string(b)
			}
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, params: params})
	call := f.calls[len(f.calls)-1]
	var result any = true
	switch method {
	case "sendMessage", "sendPhoto", "sendDocument":
		f.next++
		msg := map[string]any{
			"message_id": f.next,
			"date":       0,
			"chat":       map[string]any{"id": call.chatID(), "type": "private"},
			"text":       params["text"],
			"caption":    params["caption"],
		}
		if method == "sendPhoto" {
			msg["photo"] = []map[string]any{{"file_id": "ph", "file_unique_id": "ph", "width": 1, "height": 1}}
		}
		if method == "sendDocument" {
			msg["document"] = map[string]any{"file_id": "doc", "file_unique_id": "doc"}
		}
		result = msg
	case "getChat":
		result = map[string]any{"id": call.chatID(), "type": "private", "first_name": f.names[call.chatID()]}
	case "deleteMessage":
		if f.failDelete[params["message_id"]] {
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`))
			return
		}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (f *fakeAPI) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type stubCatalog map[string]catalog.Product

func (s stubCatalog) Lookup(id string) (catalog.Product, bool) {
	p, ok := s[id]
	return p, ok
}

var longRef = strings.Repeat("p", 60)

var products = stubCatalog{
	"prod-1": {ID: "prod-1", Title: "Стул <Венский>", Price: "1990", URL: "https://shop.example/chair", Photo: "https://shop.example/chair.jpg"},
	longRef:  {ID: longRef, Title: "Длинный"},
}

type startCounter struct{ n int }

func (s *startCounter) StartRequested() { s.n++ }

type harness struct {
	api    *fakeAPI
	bot    *tele.Bot
	store  *store.Store
	starts *startCounter
	nextID int
}

// newHarness wires the relay against a fake Bot API. Each chain builds
// global middlewares from the handlers, registered before the routes.
func newHarness(t *testing.T, chains ...func(*Handlers) []tg.Middleware) *harness {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	b, err := tele.NewBot(tele.Settings{
		Token:       testToken,
		URL:         srv.URL,
		Client:      srv.Client(),
		Offline:     true,
		Synchronous: true,
		OnError:     func(error, tele.Context) {},
	})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}

	st := store.New(store.NewMemory(), nil)
	transport := NewTransport(b, nil)
	engine, err := relay.New(relay.Options{
		OperatorID: operatorID,
		Sessions:   st.Sessions(),
		Blocks:     st.Blocks(),
		Threads:    st.Threads(),
		Transport:  transport,
		Catalog:    products,
	})
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	starts := &startCounter{}
	h, err := NewHandlers(Deps{
		Engine:   engine,
		Names:    transport,
		Catalog:  products,
		Starts:   starts,
		Sessions: st.Sessions(),
		Blocked:  st.Blocks(),
	})
	if err != nil {
		t.Fatalf("NewHandlers: %v", err)
	}

	reg := tg.NewRegistry()
	if err := Register(reg, h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, chain := range chains {
		for _, mw := range chain(h) {
			b.Use(mw.Use)
		}
	}
	for _, r := range Routes(reg, h) {
		b.Handle(r.Endpoint, r.Handler)
	}
	return &harness{api: api, bot: b, store: st, starts: starts, nextID: 1}
}

func (h *harness) update(u tele.Update) {
	h.nextID++
	u.ID = h.nextID
	h.bot.ProcessUpdate(u)
}

func user(id int64, name string) *tele.User {
	return &tele.User{ID: id, FirstName: name}
}

func (h *harness) message(from *tele.User, msgID int, text string) {
	h.update(tele.Update{Message: &tele.Message{
		ID:     msgID,
		Sender: from,
		Chat:   &tele.Chat{ID: from.ID, Type: tele.ChatPrivate},
		Text:   text,
	}})
}

func (h *harness) reply(msgID int, text string, to *tele.Message) {
	h.update(tele.Update{Message: &tele.Message{
		ID:      msgID,
		Sender:  user(operatorID, "Operator"),
		Chat:    &tele.Chat{ID: operatorID, Type: tele.ChatPrivate},
		Text:    text,
		ReplyTo: to,
	}})
}

func (h *harness) press(from *tele.User, action, payload string) {
	data := "\f" + action
	if payload != "" {
		data += "|" + payload
	}
	h.update(tele.Update{Callback: &tele.Callback{
		ID:     fmt.Sprintf("cb-%d", h.nextID),
		Sender: from,
		Data:   data,
		Message: &tele.Message{
			ID:   1,
			Chat: &tele.Chat{ID: from.ID, Type: tele.ChatPrivate},
		},
	}})
}

func (h *harness) hasSession(t *testing.T, uid int64) bool {
	t.Helper()
	_, ok, err := h.store.Sessions().Get(context.Background(), uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return ok
}
