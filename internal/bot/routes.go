package bot

import (
	tg "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/commands"
	"github.com/m3rciful/relaybot/core/telegram/router"
	"github.com/m3rciful/relaybot/internal/relay"

	tele "gopkg.in/telebot.v4"
)

// Register adds the relay commands and callbacks to reg.
func Register(reg *tg.Registry, h *Handlers) error {
	cmds := []struct {
		name string
		cmd  commands.Command
	}{
		{"/start", commands.Command{Handler: h.Start, Description: "Показать товар"}},
		{"/sessions", commands.Command{Handler: h.Sessions, Description: "Активные диалоги", AdminOnly: true}},
		{"/blocked", commands.Command{Handler: h.Blocked, Description: "Заблокированные пользователи", AdminOnly: true}},
	}
	for _, c := range cmds {
		if err := reg.RegisterCommand(c.name, c.cmd); err != nil {
			return err
		}
	}

	for key, fn := range map[string]tele.HandlerFunc{
		relay.ActionNeedHelp:    h.NeedHelp,
		relay.ActionEndDialog:   h.EndDialog,
		relay.ActionBlockUser:   h.Block,
		relay.ActionUnblockUser: h.Unblock,
	} {
		if err := reg.RegisterCallback(key, fn); err != nil {
			return err
		}
	}
	return nil
}

// Routes builds every route of the relay bot from the populated registry.
func Routes(reg *tg.Registry, h *Handlers) []tg.Route {
	operator := h.engine.OperatorID()
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: operator})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.MessageRoutes(h, reg, router.MessageOptions{AdminID: operator})...)
	return routes
}
