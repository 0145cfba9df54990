package relay

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	tagPrefix  = "#r"
	tagVersion = 1
)

// Telegram length limits, counted in UTF-16 code units.
const (
	MaxTextLen    = 4096
	MaxCaptionLen = 1024
)

// Correlation failure reasons reported by DecodeTag.
const (
	ReasonEmpty   = "empty"
	ReasonNoTag   = "no_tag"
	ReasonVersion = "version"
	ReasonUserID  = "user_id"
)

// Tag identifies the user a forwarded message belongs to. It is rendered as
// the first line of every message sent to the operator:
//
//	#r1:<user_id> <display name>
type Tag struct {
	UserID int64
	Name   string
}

// CorrelationError reports a replied-to message without a well-formed tag.
type CorrelationError struct {
	Reason string
	Line   string
}

func (e *CorrelationError) Error() string {
	if e.Line == "" {
		return "relay: correlation tag: " + e.Reason
	}
	return fmt.Sprintf("relay: correlation tag: %s: %q", e.Reason, e.Line)
}

// Code is picked up by handler summaries as err_code.
func (e *CorrelationError) Code() string {
	return "correlation_" + e.Reason
}

// EncodeTag renders the tag line. Line breaks in the name become spaces so the
// tag always stays on one line.
func EncodeTag(t Tag) string {
	line := tagPrefix + strconv.Itoa(tagVersion) + ":" + strconv.FormatInt(t.UserID, 10)
	name := strings.Join(strings.Fields(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(t.Name)), " ")
	if name == "" {
		return line
	}
	return line + " " + name
}

// DecodeTag parses the first line of text produced by Annotate.
func DecodeTag(text string) (Tag, error) {
	if strings.TrimSpace(text) == "" {
		return Tag{}, &CorrelationError{Reason: ReasonEmpty}
	}
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, tagPrefix) {
		return Tag{}, &CorrelationError{Reason: ReasonNoTag, Line: line}
	}
	head, rest, ok := strings.Cut(line[len(tagPrefix):], ":")
	if !ok {
		return Tag{}, &CorrelationError{Reason: ReasonNoTag, Line: line}
	}
	if v, err := strconv.Atoi(head); err != nil || v != tagVersion {
		return Tag{}, &CorrelationError{Reason: ReasonVersion, Line: line}
	}
	idPart, name, _ := strings.Cut(rest, " ")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return Tag{}, &CorrelationError{Reason: ReasonUserID, Line: line}
	}
	return Tag{UserID: id, Name: name}, nil
}

// Annotate composes the operator-facing text: tag line, product line, a blank
// line and the user's own text or caption.
func Annotate(t Tag, productLine, body string) string {
	var b strings.Builder
	b.WriteString(EncodeTag(t))
	b.WriteString("\n")
	b.WriteString(productLine)
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return b.String()
}

// Split is Annotate for bodies that may not fit one message: the result is
// broken into parts of at most limit UTF-16 units. The first part carries the
// tag and product lines, each further part the tag line alone, so a reply to
// any part correlates.
func Split(t Tag, productLine, body string, limit int) []string {
	full := Annotate(t, productLine, body)
	if body == "" || textLen(full) <= limit {
		return []string{full}
	}
	return chunk(Annotate(t, productLine, "")+"\n\n", EncodeTag(t)+"\n\n", body, limit)
}

// SplitBody breaks body into tagged parts without the product line, for text
// that follows a media message whose caption only had room for the header.
func SplitBody(t Tag, body string, limit int) []string {
	if body == "" {
		return nil
	}
	prefix := EncodeTag(t) + "\n\n"
	return chunk(prefix, prefix, body, limit)
}

func chunk(first, next, body string, limit int) []string {
	var parts []string
	prefix := first
	for body != "" {
		head, rest := cutLen(body, limit-textLen(prefix))
		parts = append(parts, prefix+head)
		body, prefix = rest, next
	}
	return parts
}

// cutLen splits s after at most n UTF-16 units, preferring the last line
// break or space in the second half of the window. At least one rune is
// always taken.
func cutLen(s string, n int) (string, string) {
	if textLen(s) <= n {
		return s, ""
	}
	end, width, brk := 0, 0, -1
	for end < len(s) {
		r, size := utf8.DecodeRuneInString(s[end:])
		w := runeWidth(r)
		if width+w > n && end > 0 {
			break
		}
		width += w
		end += size
		if (r == '\n' || r == ' ') && width > n/2 {
			brk = end
		}
	}
	if brk > 0 {
		end = brk
	}
	return s[:end], s[end:]
}

func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1
}
