package relay

import "strconv"

// Kind is the payload type of a relayed message.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindFile
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindFile:
		return "file"
	case KindUnsupported:
		return "unsupported"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Payload is a message body. Text holds the message text or, for images and
// files, the caption. FileID is the transport file reference.
type Payload struct {
	Kind   Kind
	Text   string
	FileID string
}

// TextPayload is a shorthand for a plain text payload.
func TextPayload(text string) Payload {
	return Payload{Kind: KindText, Text: text}
}
