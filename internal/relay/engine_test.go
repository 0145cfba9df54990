package relay

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/m3rciful/relaybot/internal/store"
)

func TestHelpRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartHelp(ctx, 42, "Alice", "prod-1"); err != nil {
		t.Fatalf("StartHelp: %v", err)
	}
	active, _ := f.store.Sessions().List(ctx)
	if !reflect.DeepEqual(active, map[int64]string{42: "prod-1"}) {
		t.Fatalf("sessions = %v", active)
	}
	if s, _ := f.gauges.get(); s != 1 {
		t.Fatalf("sessions gauge = %d, want 1", s)
	}
	if got := f.transport.to(42); len(got) != 1 || got[0].text != TextAskQuestion {
		t.Fatalf("user prompt = %+v", got)
	}

	if err := f.engine.Inbound(ctx, 42, "Alice", TextPayload("hello")); err != nil {
		t.Fatalf("Inbound: %v", err)
	}
	forwarded := f.transport.to(operatorID)
	if len(forwarded) != 1 {
		t.Fatalf("operator messages = %d, want 1", len(forwarded))
	}
	fw := forwarded[0]
	if !strings.Contains(fw.text, "prod-1") || !strings.HasSuffix(fw.text, "hello") {
		t.Fatalf("forwarded text = %q", fw.text)
	}
	if len(fw.controls) != 3 {
		t.Fatalf("controls = %d, want 3", len(fw.controls))
	}
	for i, action := range []string{ActionEndDialog, ActionBlockUser, ActionUnblockUser} {
		if fw.controls[i].Action != action || fw.controls[i].Payload != "42" {
			t.Fatalf("control %d = %+v", i, fw.controls[i])
		}
	}
	if h, _ := f.store.Threads().List(ctx, 42); len(h) != 1 {
		t.Fatalf("thread = %v, want 1 handle", h)
	}

	const replyHandle = 500
	if err := f.engine.OperatorReply(ctx, fw.text, TextPayload("hi"), replyHandle); err != nil {
		t.Fatalf("OperatorReply: %v", err)
	}
	toUser := f.transport.to(42)
	if last := toUser[len(toUser)-1]; last.text != "hi" || last.controls != nil {
		t.Fatalf("reply delivered as %+v", last)
	}
	thread, _ := f.store.Threads().List(ctx, 42)
	if want := []int{fw.handle, replyHandle}; !reflect.DeepEqual(thread, want) {
		t.Fatalf("thread = %v, want %v", thread, want)
	}

	res, err := f.engine.EndSession(ctx, 42)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if res.Attempted != 2 || res.Failed != 0 || !res.HadSession || !res.Notified {
		t.Fatalf("end result = %+v", res)
	}
	if !reflect.DeepEqual(f.transport.deleted, []int{fw.handle, replyHandle}) {
		t.Fatalf("deleted = %v", f.transport.deleted)
	}
	if _, ok, _ := f.store.Sessions().Get(ctx, 42); ok {
		t.Fatal("session still present")
	}
	if s, _ := f.gauges.get(); s != 0 {
		t.Fatalf("sessions gauge = %d, want 0", s)
	}
}

func TestStartHelpRepeatedCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, ref := range []string{"a", "b", "c"} {
		if err := f.engine.StartHelp(ctx, 9, "Bob", ref); err != nil {
			t.Fatalf("StartHelp(%s): %v", ref, err)
		}
	}
	if s, _ := f.gauges.get(); s != 1 {
		t.Fatalf("sessions gauge = %d, want 1", s)
	}
	sess, _, _ := f.store.Sessions().Get(ctx, 9)
	if sess.ProductRef != "c" {
		t.Fatalf("product ref = %q, want c", sess.ProductRef)
	}
}

func TestStartHelpRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.StartHelp(ctx, operatorID, "Op", "x"); !errors.Is(err, ErrRejected) {
		t.Fatalf("operator StartHelp err = %v, want ErrRejected", err)
	}
	_ = f.engine.BlockUser(ctx, 5)
	if err := f.engine.StartHelp(ctx, 5, "Eve", "x"); !errors.Is(err, ErrRejected) {
		t.Fatalf("blocked StartHelp err = %v, want ErrRejected", err)
	}
	if active, _ := f.store.Sessions().List(ctx); len(active) != 0 {
		t.Fatalf("sessions = %v, want none", active)
	}
	if len(f.transport.sent) != 0 {
		t.Fatalf("rejected help request sent %d messages", len(f.transport.sent))
	}
}

func TestStartHelpWithoutProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 3, "Ann", "")
	_ = f.engine.Inbound(ctx, 3, "Ann", TextPayload("?"))
	fw := f.transport.to(operatorID)[0]
	if !strings.Contains(fw.text, ProductLabel+" "+TextUnknownProduct) {
		t.Fatalf("forwarded text = %q", fw.text)
	}
}

func TestBlockedUserNeverForwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 8, "Mallory", "p")
	if err := f.engine.BlockUser(ctx, 8); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	err := f.engine.Inbound(ctx, 8, "Mallory", TextPayload("let me in"))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Inbound err = %v, want ErrRejected", err)
	}
	if got := f.transport.to(operatorID); len(got) != 0 {
		t.Fatalf("operator received %d messages", len(got))
	}
	if s, b := f.gauges.get(); s != 0 || b != 1 {
		t.Fatalf("gauges = (%d, %d), want (0, 1)", s, b)
	}
}

func TestBlockedWithStaleSessionNeverForwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.Sessions().Upsert(ctx, 8, "p")
	_ = f.store.Blocks().Add(ctx, 8)
	if err := f.engine.Inbound(ctx, 8, "Mallory", TextPayload("x")); !errors.Is(err, ErrRejected) {
		t.Fatalf("Inbound err = %v, want ErrRejected", err)
	}
	if got := f.transport.to(operatorID); len(got) != 0 {
		t.Fatalf("operator received %d messages", len(got))
	}
}

func TestInboundWithoutSessionRejected(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Inbound(context.Background(), 11, "Zed", TextPayload("hi"))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestInboundPayloadKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 20, "Kim", "prod-1")

	payloads := []Payload{
		{Kind: KindImage, FileID: "photo-1", Text: "look"},
		{Kind: KindFile, FileID: "doc-1"},
		{Kind: KindUnsupported},
	}
	for _, p := range payloads {
		if err := f.engine.Inbound(ctx, 20, "Kim", p); err != nil {
			t.Fatalf("Inbound(%s): %v", p.Kind, err)
		}
	}
	got := f.transport.to(operatorID)
	if len(got) != 3 {
		t.Fatalf("operator messages = %d, want 3", len(got))
	}
	if got[0].kind != KindImage || got[0].fileID != "photo-1" || !strings.HasSuffix(got[0].text, "look") {
		t.Fatalf("image forward = %+v", got[0])
	}
	if got[1].kind != KindFile || got[1].fileID != "doc-1" {
		t.Fatalf("file forward = %+v", got[1])
	}
	if got[2].kind != KindText || !strings.Contains(got[2].text, TextUnsupported) || len(got[2].controls) != 3 {
		t.Fatalf("unsupported notice = %+v", got[2])
	}
	for _, s := range got {
		tag, err := DecodeTag(s.text)
		if err != nil || tag.UserID != 20 || tag.Name != "Kim" {
			t.Fatalf("tag of %q = %+v, %v", s.text, tag, err)
		}
		if !strings.Contains(s.text, "prod-1 (Chair)") {
			t.Fatalf("product line missing in %q", s.text)
		}
	}
	thread, _ := f.store.Threads().List(ctx, 20)
	if len(thread) != 3 {
		t.Fatalf("thread = %v, want 3 handles", thread)
	}
}

func TestInboundForwardFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 30, "Lee", "p")
	f.transport.failSend[operatorID] = errors.New("telegram: bad gateway")

	if err := f.engine.Inbound(ctx, 30, "Lee", TextPayload("hello")); err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want transport failure", err)
	}
	if thread, _ := f.store.Threads().List(ctx, 30); len(thread) != 0 {
		t.Fatalf("thread = %v, want empty", thread)
	}
}

func TestOperatorReplyCorrelationError(t *testing.T) {
	f := newFixture(t)
	err := f.engine.OperatorReply(context.Background(), "just some text", TextPayload("hi"), 77)
	var cerr *CorrelationError
	if !errors.As(err, &cerr) || cerr.Reason != ReasonNoTag {
		t.Fatalf("err = %v, want CorrelationError(no_tag)", err)
	}
	if len(f.transport.sent) != 0 {
		t.Fatal("malformed reply was delivered")
	}
}

func TestOperatorReplyMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	replied := Annotate(Tag{UserID: 55, Name: "Sam"}, ProductLabel+" x", "question")

	if err := f.engine.OperatorReply(ctx, replied, Payload{Kind: KindImage, FileID: "ph", Text: "see"}, 600); err != nil {
		t.Fatalf("image reply: %v", err)
	}
	if err := f.engine.OperatorReply(ctx, replied, Payload{Kind: KindUnsupported}, 601); !errors.Is(err, ErrRejected) {
		t.Fatalf("unsupported reply err = %v, want ErrRejected", err)
	}
	got := f.transport.to(55)
	if len(got) != 1 || got[0].kind != KindImage || got[0].text != "see" {
		t.Fatalf("delivered = %+v", got)
	}
	thread, _ := f.store.Threads().List(ctx, 55)
	if !reflect.DeepEqual(thread, []int{600}) {
		t.Fatalf("thread = %v", thread)
	}
}

func TestOperatorReplyToBlockedUserDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.BlockUser(ctx, 66)
	replied := Annotate(Tag{UserID: 66, Name: "Q"}, ProductLabel+" x", "")
	if err := f.engine.OperatorReply(ctx, replied, TextPayload("hi"), 700); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if got := f.transport.to(66); len(got) != 0 {
		t.Fatalf("blocked user received %d messages", len(got))
	}
}

func TestEndSessionContinuesPastDeleteFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 42, "Alice", "prod-1")
	for i := 0; i < 4; i++ {
		_ = f.engine.Inbound(ctx, 42, "Alice", TextPayload("m"))
	}
	handles, _ := f.store.Threads().List(ctx, 42)
	f.transport.failDelete[handles[0]] = true
	f.transport.failDelete[handles[2]] = true

	res, err := f.engine.EndSession(ctx, 42)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if res.Attempted != 4 || res.Failed != 2 {
		t.Fatalf("result = %+v, want 4 attempted, 2 failed", res)
	}
	if !reflect.DeepEqual(f.transport.deleted, handles) {
		t.Fatalf("deleted = %v, want %v", f.transport.deleted, handles)
	}
	if thread, _ := f.store.Threads().List(ctx, 42); len(thread) != 0 {
		t.Fatalf("thread = %v, want empty", thread)
	}
	if _, ok, _ := f.store.Sessions().Get(ctx, 42); ok {
		t.Fatal("session still present")
	}
}

func TestEndSessionNotifiesWithProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 42, "Alice", "prod-1")
	if _, err := f.engine.EndSession(ctx, 42); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	toUser := f.transport.to(42)
	last := toUser[len(toUser)-1]
	if last.text != TextSessionEnded || len(last.controls) != 1 {
		t.Fatalf("notice = %+v", last)
	}
	if c := last.controls[0]; c.Action != ActionNeedHelp || c.Payload != "prod-1" {
		t.Fatalf("control = %+v", c)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.engine.EndSession(ctx, 99)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if res.Attempted != 0 || res.HadSession || !res.Notified {
		t.Fatalf("result = %+v", res)
	}
	if got := f.transport.to(99); len(got) != 1 || got[0].controls[0].Payload != "" {
		t.Fatalf("notice = %+v", got)
	}
	if s, _ := f.gauges.get(); s != 0 {
		t.Fatalf("sessions gauge = %d", s)
	}
}

func TestEndSessionNotifyFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 12, "U", "p")
	f.transport.failSend[12] = errors.New("bot was blocked by the user")
	res, err := f.engine.EndSession(ctx, 12)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if res.Notified {
		t.Fatal("notification reported as sent")
	}
	if _, ok, _ := f.store.Sessions().Get(ctx, 12); ok {
		t.Fatal("session still present")
	}
}

func TestBlockWithoutSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.BlockUser(ctx, 7); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if ok, _ := f.store.Blocks().Contains(ctx, 7); !ok {
		t.Fatal("user 7 not blocked")
	}
	if s, b := f.gauges.get(); s != 0 || b != 1 {
		t.Fatalf("gauges = (%d, %d), want (0, 1)", s, b)
	}
	if err := f.engine.BlockUser(ctx, operatorID); !errors.Is(err, ErrRejected) {
		t.Fatalf("blocking the operator err = %v", err)
	}
}

func TestUnblockNotBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.UnblockUser(ctx, 7); !errors.Is(err, store.ErrNotBlocked) {
		t.Fatalf("err = %v, want ErrNotBlocked", err)
	}
	if _, b := f.gauges.get(); b != 0 {
		t.Fatalf("blocked gauge = %d, want 0", b)
	}

	_ = f.engine.BlockUser(ctx, 7)
	if err := f.engine.UnblockUser(ctx, 7); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, b := f.gauges.get(); b != 0 {
		t.Fatalf("blocked gauge = %d, want 0", b)
	}
}

func TestUnblockDoesNotRestoreSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.engine.StartHelp(ctx, 13, "U", "p")
	_ = f.engine.BlockUser(ctx, 13)
	_ = f.engine.UnblockUser(ctx, 13)
	if ok, _ := f.engine.HasSession(ctx, 13); ok {
		t.Fatal("unblock restored the session")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}

func TestInboundSplitsOversizedMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.engine.StartHelp(ctx, 42, "Alice", "prod-1"); err != nil {
		t.Fatalf("StartHelp: %v", err)
	}

	long := strings.Repeat("a", MaxTextLen)
	if err := f.engine.Inbound(ctx, 42, "Alice", TextPayload(long)); err != nil {
		t.Fatalf("Inbound text: %v", err)
	}
	caption := strings.Repeat("b", MaxCaptionLen)
	photo := Payload{Kind: KindImage, FileID: "ph-1", Text: caption}
	if err := f.engine.Inbound(ctx, 42, "Alice", photo); err != nil {
		t.Fatalf("Inbound photo: %v", err)
	}

	forwarded := f.transport.to(operatorID)
	if len(forwarded) != 4 {
		t.Fatalf("operator messages = %d, want 4", len(forwarded))
	}
	img := forwarded[2]
	if img.kind != KindImage || strings.Contains(img.text, "b") || textLen(img.text) > MaxCaptionLen {
		t.Fatalf("photo caption = %q", img.text)
	}
	if forwarded[3].kind != KindText || !strings.HasSuffix(forwarded[3].text, caption) {
		t.Fatalf("caption follow-up = %+v", forwarded[3])
	}
	for i, m := range forwarded {
		if tag, err := DecodeTag(m.text); err != nil || tag.UserID != 42 {
			t.Fatalf("message %d lost its tag: %v", i, err)
		}
	}

	thread, _ := f.store.Threads().List(ctx, 42)
	if len(thread) != 4 {
		t.Fatalf("thread = %v, want every part recorded", thread)
	}
	res, err := f.engine.EndSession(ctx, 42)
	if err != nil || res.Attempted != 4 {
		t.Fatalf("EndSession = %+v, %v", res, err)
	}
}
