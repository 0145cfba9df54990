// Package relay moves messages between end users and the single operator.
//
// The engine holds no relay state of its own: every decision re-reads the
// session store, block list and thread ledger it was built with.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/catalog"
	"github.com/m3rciful/relaybot/internal/store"
)

// ErrRejected marks an action dropped because its precondition failed
// (blocked user, operator acting as user, no active session).
var ErrRejected = errors.New("relay: rejected")

// UnknownProduct is stored when a help request carries no product reference.
const UnknownProduct = "unknown"

// Sessions is the session store consumed by the engine.
type Sessions interface {
	Get(ctx context.Context, userID int64) (store.Session, bool, error)
	List(ctx context.Context) (map[int64]string, error)
	Upsert(ctx context.Context, userID int64, productRef string) error
	Remove(ctx context.Context, userID int64) error
}

// Blocks is the block list consumed by the engine.
type Blocks interface {
	Contains(ctx context.Context, userID int64) (bool, error)
	Add(ctx context.Context, userID int64) error
	Remove(ctx context.Context, userID int64) error
}

// Threads is the thread ledger consumed by the engine.
type Threads interface {
	List(ctx context.Context, userID int64) ([]int, error)
	Append(ctx context.Context, userID int64, handle int) error
	Clear(ctx context.Context, userID int64) error
}

// Catalog resolves product references for the operator annotation.
type Catalog interface {
	Lookup(ref string) (catalog.Product, bool)
}

// Transport sends and deletes messages. Send methods return the handle of the
// created message.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, controls []Control) (int, error)
	SendImage(ctx context.Context, chatID int64, fileID, caption string, controls []Control) (int, error)
	SendDocument(ctx context.Context, chatID int64, fileID, caption string, controls []Control) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, handle int) error
	DisplayName(ctx context.Context, userID int64) (string, error)
}

// Options wires the engine collaborators. Catalog is optional.
type Options struct {
	OperatorID int64
	Sessions   Sessions
	Blocks     Blocks
	Threads    Threads
	Transport  Transport
	Catalog    Catalog
}

// Engine implements the relay state machine and the session lifecycle.
type Engine struct {
	operatorID int64
	sessions   Sessions
	blocks     Blocks
	threads    Threads
	transport  Transport
	catalog    Catalog
	locks      *userLocks
}

// New validates opts and builds an Engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.OperatorID == 0:
		return nil, errors.New("relay: operator id is required")
	case opts.Sessions == nil, opts.Blocks == nil, opts.Threads == nil:
		return nil, errors.New("relay: stores are required")
	case opts.Transport == nil:
		return nil, errors.New("relay: transport is required")
	}
	return &Engine{
		operatorID: opts.OperatorID,
		sessions:   opts.Sessions,
		blocks:     opts.Blocks,
		threads:    opts.Threads,
		transport:  opts.Transport,
		catalog:    opts.Catalog,
		locks:      newUserLocks(),
	}, nil
}

// OperatorID returns the operator identity.
func (e *Engine) OperatorID() int64 { return e.operatorID }

// HasSession reports whether userID currently has an active session.
func (e *Engine) HasSession(ctx context.Context, userID int64) (bool, error) {
	active, err := e.sessions.List(ctx)
	if err != nil {
		return false, err
	}
	_, ok := active[userID]
	return ok, nil
}

// StartHelp opens a session for userID about productRef and prompts the user
// to ask their question.
func (e *Engine) StartHelp(ctx context.Context, userID int64, name, productRef string) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	if userID == e.operatorID {
		return e.reject(ctx, "relay.start_help", userID, "operator")
	}
	blocked, err := e.blocks.Contains(ctx, userID)
	if err != nil {
		return err
	}
	if blocked {
		return e.reject(ctx, "relay.start_help", userID, "blocked")
	}
	if productRef == "" {
		productRef = UnknownProduct
	}
	if err := e.sessions.Upsert(ctx, userID, productRef); err != nil {
		return err
	}
	if _, err := e.transport.SendText(ctx, userID, TextAskQuestion, nil); err != nil {
		return e.transportFailure(ctx, "relay.start_help", userID, err)
	}
	logger.Info(ctx, "relay", "relay.start_help",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("username", logger.SanitizeLimit(name, 64)),
		slog.String("product_ref", productRef),
	)
	return nil
}

// Inbound forwards a user message to the operator and records the handles of
// the forwarded copies; text too long for one message goes out in tagged
// parts. A forwarding failure is returned to the caller.
func (e *Engine) Inbound(ctx context.Context, userID int64, name string, p Payload) error {
	unlock := e.locks.lock(userID)
	defer unlock()

	active, err := e.sessions.List(ctx)
	if err != nil {
		return err
	}
	productRef, ok := active[userID]
	if !ok {
		return e.reject(ctx, "relay.inbound", userID, "no_session")
	}
	blocked, err := e.blocks.Contains(ctx, userID)
	if err != nil {
		return err
	}
	if blocked {
		return e.reject(ctx, "relay.inbound", userID, "blocked")
	}

	handles, err := e.forward(ctx, Tag{UserID: userID, Name: name}, e.productLine(productRef), p)
	for _, h := range handles {
		if aerr := e.threads.Append(ctx, userID, h); aerr != nil {
			return aerr
		}
	}
	if err != nil {
		return e.transportFailure(ctx, "relay.inbound", userID, err)
	}

	level := logger.Info
	if p.Kind == KindUnsupported {
		level = logger.Warn
	}
	level(ctx, "relay", "relay.inbound",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("kind", p.Kind.String()),
		slog.String("product_ref", productRef),
		slog.Int("handle", handles[0]),
		slog.Int("parts", len(handles)),
	)
	return nil
}

// forward sends p to the operator, splitting text that exceeds Telegram's
// limits, and returns the handle of every message created, including those
// sent before a failure.
func (e *Engine) forward(ctx context.Context, tag Tag, product string, p Payload) ([]int, error) {
	controls := OperatorControls(tag.UserID)
	var handles []int
	sendText := func(parts []string) error {
		for _, part := range parts {
			h, err := e.transport.SendText(ctx, e.operatorID, part, controls)
			if err != nil {
				return err
			}
			handles = append(handles, h)
		}
		return nil
	}

	switch p.Kind {
	case KindText:
		return handles, sendText(Split(tag, product, p.Text, MaxTextLen))
	case KindImage, KindFile:
		caption, rest := Annotate(tag, product, p.Text), []string(nil)
		if textLen(caption) > MaxCaptionLen {
			caption, rest = Annotate(tag, product, ""), SplitBody(tag, p.Text, MaxTextLen)
		}
		send := e.transport.SendImage
		if p.Kind == KindFile {
			send = e.transport.SendDocument
		}
		h, err := send(ctx, e.operatorID, p.FileID, caption, controls)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
		return handles, sendText(rest)
	default:
		return handles, sendText([]string{Annotate(tag, product, TextUnsupported)})
	}
}

// OperatorReply routes an operator reply back to the user named in the tag of
// repliedText. The reply's own handle is recorded before delivery.
func (e *Engine) OperatorReply(ctx context.Context, repliedText string, p Payload, replyHandle int) error {
	tag, err := DecodeTag(repliedText)
	if err != nil {
		var cerr *CorrelationError
		reason := "correlation"
		if errors.As(err, &cerr) {
			reason = cerr.Reason
		}
		logger.Warn(ctx, "relay", "relay.operator_reply",
			slog.String("status", "rejected"),
			slog.String("reason", reason),
			slog.Int("handle", replyHandle),
		)
		return err
	}

	unlock := e.locks.lock(tag.UserID)
	defer unlock()

	if p.Kind == KindUnsupported {
		return e.reject(ctx, "relay.operator_reply", tag.UserID, "unsupported_payload")
	}
	blocked, err := e.blocks.Contains(ctx, tag.UserID)
	if err != nil {
		return err
	}
	if blocked {
		return e.reject(ctx, "relay.operator_reply", tag.UserID, "blocked")
	}
	if err := e.threads.Append(ctx, tag.UserID, replyHandle); err != nil {
		return err
	}

	switch p.Kind {
	case KindImage:
		_, err = e.transport.SendImage(ctx, tag.UserID, p.FileID, p.Text, nil)
	case KindFile:
		_, err = e.transport.SendDocument(ctx, tag.UserID, p.FileID, p.Text, nil)
	default:
		_, err = e.transport.SendText(ctx, tag.UserID, p.Text, nil)
	}
	if err != nil {
		return e.transportFailure(ctx, "relay.operator_reply", tag.UserID, err)
	}
	logger.Info(ctx, "relay", "relay.operator_reply",
		slog.String("status", "ok"),
		slog.Int64("user_id", tag.UserID),
		slog.String("username", logger.SanitizeLimit(tag.Name, 64)),
		slog.String("kind", p.Kind.String()),
		slog.Int("handle", replyHandle),
	)
	return nil
}

func (e *Engine) productLine(ref string) string {
	label := ref
	if label == "" || label == UnknownProduct {
		return ProductLabel + " " + TextUnknownProduct
	}
	if e.catalog != nil {
		if p, ok := e.catalog.Lookup(ref); ok && p.Title != "" {
			label = fmt.Sprintf("%s (%s)", ref, p.Title)
		}
	}
	return ProductLabel + " " + label
}

func (e *Engine) reject(ctx context.Context, op string, userID int64, reason string) error {
	logger.Warn(ctx, "relay", op,
		slog.String("status", "rejected"),
		slog.Int64("user_id", userID),
		slog.String("reason", reason),
	)
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

func (e *Engine) transportFailure(ctx context.Context, op string, userID int64, err error) error {
	logger.Error(ctx, "relay", op,
		slog.String("status", "fail"),
		slog.Int64("user_id", userID),
		slog.String("err", err.Error()),
	)
	return fmt.Errorf("%s: %w", op, err)
}
