package router

import (
	"strings"

	tg "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Conversation takes over messages that belong to an ongoing exchange.
// InProgress is checked after command lookup and before fallbacks.
type Conversation interface {
	InProgress(c tele.Context) bool
	Handle(c tele.Context) error
}

// MessageOptions controls fallback behaviour for messages nobody claimed.
type MessageOptions struct {
	// AdminID may reach AdminOnly commands through aliases or @bot suffixes.
	AdminID      int64
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// mediaEndpoints are the non-text updates offered to the conversation.
// OnMedia catches the media kinds without a dedicated endpoint.
var mediaEndpoints = []string{
	tele.OnPhoto,
	tele.OnDocument,
	tele.OnMedia,
	tele.OnLocation,
	tele.OnVenue,
	tele.OnContact,
	tele.OnPoll,
	tele.OnDice,
}

// MessageRoutes builds the text route and one route per media endpoint.
func MessageRoutes(conv Conversation, reg *tg.Registry, opts MessageOptions) []tg.Route {
	text := func(c tele.Context) error {
		if h, name, ok := lookupCommand(reg, c, opts.AdminID); ok {
			s := newSummary(name)
			if h == nil {
				s.skip(c, "rejected")
				return nil
			}
			return s.run(c, func() error { return h(c) })
		}
		if conv != nil && conv.InProgress(c) {
			return newSummary("conversation").run(c, func() error { return conv.Handle(c) })
		}
		return unclaimed(c, "unknown_text", opts.UnknownText)
	}

	media := func(c tele.Context) error {
		if conv != nil && conv.InProgress(c) {
			return newSummary("conversation_media").run(c, func() error { return conv.Handle(c) })
		}
		return unclaimed(c, "unexpected_media", opts.UnknownMedia)
	}

	routes := make([]tg.Route, 0, len(mediaEndpoints)+1)
	routes = append(routes, tg.Route{Endpoint: tele.OnText, Handler: middleware.RecoverMiddleware(text)})
	for _, ep := range mediaEndpoints {
		routes = append(routes, tg.Route{Endpoint: ep, Handler: middleware.RecoverMiddleware(media)})
	}
	return routes
}

// lookupCommand resolves "/cmd@bot args" and aliases that telebot's exact
// endpoint match misses. A nil handler with ok means the sender may not run
// the command.
func lookupCommand(reg *tg.Registry, c tele.Context, adminID int64) (tele.HandlerFunc, string, bool) {
	text := c.Text()
	if reg == nil || !strings.HasPrefix(text, "/") {
		return nil, "", false
	}
	key, cmd, ok := reg.LookupCommand(commandName(text))
	if !ok || cmd.Handler == nil {
		return nil, "", false
	}
	if cmd.AdminOnly && !middleware.IsAdmin(c, adminID) {
		return nil, handlerName(key), true
	}
	return cmd.Handler, handlerName(key), true
}

func unclaimed(c tele.Context, name string, fn tele.HandlerFunc) error {
	if fn == nil {
		newSummary(name).skip(c, "skip")
		return nil
	}
	return newSummary(name).run(c, func() error { return fn(c) })
}

// commandName strips arguments and the @botname suffix from a command line.
func commandName(text string) string {
	name, _, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return name
}
