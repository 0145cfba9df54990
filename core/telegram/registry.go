package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry holds the bot's commands and callback handlers.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]commands.Command
	callbacks map[string]tele.HandlerFunc
	notFound  tele.HandlerFunc
}

// NewRegistry creates an empty Registry whose unknown-callback fallback
// answers with a short notice.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
		notFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Неизвестное действие"})
		},
	}
}

func wireSkip(event, name, reason string) {
	logger.Warn(context.Background(), "tg.wire", event,
		slog.String("status", "skip"),
		slog.String("name", name),
		slog.String("reason", reason),
	)
}

// RegisterCommand adds cmd under name, which must start with a slash.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	switch {
	case cmd.Handler == nil || cmd.Description == "":
		wireSkip("register.command", name, "invalid")
		return fmt.Errorf("telegram: command %q needs a handler and a description", name)
	case !strings.HasPrefix(name, "/"):
		wireSkip("register.command", name, "no_slash_prefix")
		return fmt.Errorf("telegram: command %q must start with /", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[name]; dup {
		wireSkip("register.command", name, "duplicate")
		return fmt.Errorf("telegram: command %q already registered", name)
	}
	r.commands[name] = cmd
	return nil
}

// ListCommands returns the menu entries sorted by name. Hidden commands are
// never listed; AdminOnly ones only when withAdmin is set.
func (r *Registry) ListCommands(withAdmin bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []tele.Command
	for _, name := range slices.Sorted(maps.Keys(r.commands)) {
		cmd := r.commands[name]
		if cmd.Hidden || (cmd.AdminOnly && !withAdmin) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: cmd.Description})
	}
	return list
}

// LookupCommand finds a command by name or alias and returns its
// registered name.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	name = "/" + strings.TrimPrefix(name, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if "/"+strings.TrimPrefix(alias, "/") == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// Commands returns a copy of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.commands)
}

// RegisterCallback maps a callback unique key to its handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		wireSkip("register.callback", key, "invalid")
		return fmt.Errorf("telegram: callback %q needs a key and a handler", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.callbacks[key]; dup {
		wireSkip("register.callback", key, "duplicate")
		return fmt.Errorf("telegram: callback %q already registered", key)
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler registered for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the registered keys, sorted.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.callbacks))
}

// CallbackNotFound is the fallback for callbacks with an unknown key.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	return r.notFound
}

// InitBotCommands publishes the command menu: public commands for
// everyone and, when operatorID is set, the full list in the operator's chat.
func InitBotCommands(bot *tele.Bot, reg *Registry, operatorID int64) {
	ctx := context.Background()
	public := reg.ListCommands(false)
	if err := bot.SetCommands(public); err != nil {
		logger.Error(ctx, "tg.wire", "register.commands",
			slog.String("status", "fail"),
			slog.String("scope", "default"),
			logger.ErrAttr(err),
		)
		return
	}
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Int("commands_total", len(public)),
	}

	if operatorID != 0 {
		all := reg.ListCommands(true)
		scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: operatorID}
		if err := bot.SetCommands(all, scope); err != nil {
			logger.Warn(ctx, "tg.wire", "register.commands",
				slog.String("status", "fail"),
				slog.String("scope", "operator"),
				logger.ErrAttr(err),
			)
		} else {
			attrs = append(attrs, slog.Int("operator_commands", len(all)))
		}
	}
	logger.Info(ctx, "tg.wire", "register.commands", attrs...)
}
