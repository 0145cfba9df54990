// Package commands describes the slash commands kept by the registry.
package commands

import tele "gopkg.in/telebot.v4"

// Command is a slash command together with its menu entry.
type Command struct {
	Handler tele.HandlerFunc
	// Description is the menu text; a command without one is rejected.
	Description string
	// AdminOnly commands run for the operator only and show in their menu.
	AdminOnly bool
	// Hidden commands work but are never listed.
	Hidden bool
	// Aliases resolve to this command, with or without the slash.
	Aliases []string
}
