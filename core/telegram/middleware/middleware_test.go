package middleware

import (
	"errors"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Token: "123456:TEST", Offline: true, Synchronous: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return b
}

func textUpdate(userID int64) tele.Update {
	return tele.Update{ID: 1, Message: &tele.Message{
		ID:     10,
		Sender: &tele.User{ID: userID},
		Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
		Text:   "hello",
	}}
}

func callbackUpdate(userID int64) tele.Update {
	return tele.Update{ID: 2, Callback: &tele.Callback{
		ID:     "cb",
		Sender: &tele.User{ID: userID},
		Data:   "\fend_dialog|7",
	}}
}

func TestUpdateKind(t *testing.T) {
	cases := map[string]tele.Update{
		coreconfig.UpdateMessage:     textUpdate(5),
		coreconfig.UpdateCallback:    callbackUpdate(5),
		coreconfig.UpdateInlineQuery: {Query: &tele.Query{ID: "q"}},
		"other":                      {},
	}
	for want, upd := range cases {
		if got := UpdateKind(upd); got != want {
			t.Errorf("UpdateKind = %q, want %q", got, want)
		}
	}
}

func TestRateLimitDropsBurstButNotOperator(t *testing.T) {
	b := offlineBot(t)
	calls := 0
	limited := 0
	h := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		Exclude:   map[string]struct{}{coreconfig.UpdateCallback: {}},
		Exempt:    map[int64]struct{}{1: {}},
		OnLimited: func(tele.Context) error { limited++; return nil },
	})(func(tele.Context) error { calls++; return nil })

	for range 2 {
		_ = h(b.NewContext(textUpdate(5)))
	}
	if calls != 1 || limited != 1 {
		t.Fatalf("user burst: calls=%d limited=%d, want 1/1", calls, limited)
	}

	_ = h(b.NewContext(callbackUpdate(5)))
	if calls != 2 {
		t.Fatalf("excluded callback was limited: calls=%d", calls)
	}

	for range 3 {
		_ = h(b.NewContext(textUpdate(1)))
	}
	if calls != 5 || limited != 1 {
		t.Fatalf("operator: calls=%d limited=%d, want 5/1", calls, limited)
	}
}

func TestRateLimitBypassKeepsConversationMessages(t *testing.T) {
	b := offlineBot(t)
	calls := 0
	h := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Bypass:   func(c tele.Context) bool { return c.Sender().ID == 7 },
	})(func(tele.Context) error { calls++; return nil })

	for range 3 {
		_ = h(b.NewContext(textUpdate(7)))
	}
	if calls != 3 {
		t.Fatalf("bypassed user: calls=%d, want 3", calls)
	}
	for range 2 {
		_ = h(b.NewContext(textUpdate(8)))
	}
	if calls != 4 {
		t.Fatalf("other user: calls=%d, want 4", calls)
	}
}

type updateLog map[[2]string]int

func (u updateLog) UpdateHandled(handler, outcome string) { u[[2]string{handler, outcome}]++ }

func TestMessageMetricsReportsHandlerOutcome(t *testing.T) {
	b := offlineBot(t)
	rec := updateLog{}
	mw := MessageMetricsMiddleware(rec)

	ok := mw(func(c tele.Context) error {
		tghelpers.WithHandler(c, "need_help")
		return nil
	})
	if err := ok(b.NewContext(callbackUpdate(5))); err != nil {
		t.Fatalf("handler: %v", err)
	}

	boom := errors.New("boom")
	failing := mw(func(tele.Context) error { return boom })
	c := b.NewContext(textUpdate(5))
	if err := failing(c); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if n, kb := GetCounters(c); n != 0 || kb {
		t.Fatalf("counters = %d/%v, want 0/false", n, kb)
	}

	if rec[[2]string{"need_help", "ok"}] != 1 || rec[[2]string{"unrouted", "fail"}] != 1 {
		t.Fatalf("recorded %v", rec)
	}
}

func TestAdminOnly(t *testing.T) {
	b := offlineBot(t)
	passed, rejected := 0, 0
	h := AdminOnlyMiddleware(AdminOptions{
		AdminID:  1,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})(func(tele.Context) error { passed++; return nil })

	_ = h(b.NewContext(textUpdate(1)))
	_ = h(b.NewContext(textUpdate(5)))
	if passed != 1 || rejected != 1 {
		t.Fatalf("passed=%d rejected=%d", passed, rejected)
	}
}

func TestRecoverTurnsPanicIntoError(t *testing.T) {
	b := offlineBot(t)
	h := RecoverMiddleware(func(tele.Context) error { panic("kaboom") })
	if err := h(b.NewContext(textUpdate(5))); err == nil {
		t.Fatal("expected error from panic")
	}
}
