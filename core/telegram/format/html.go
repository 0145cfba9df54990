// Package format renders user-provided values into Telegram HTML markup.
package format

import "html"

// EscapeHTML escapes the characters Telegram's HTML parse mode treats as markup.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// Bold wraps escaped text in <b>.
func Bold(s string) string {
	return "<b>" + EscapeHTML(s) + "</b>"
}
