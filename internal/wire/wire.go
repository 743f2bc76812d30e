// Package wire encodes and decodes the report server's live message stream.
package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/torosent/tankwatch/internal/store"
)

// ErrMalformed is returned for frames that are neither a control string nor an update envelope.
var ErrMalformed = errors.New("malformed message")

// Kind identifies a decoded server message.
type Kind int

const (
	KindData Kind = iota + 1
	KindReload
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindReload:
		return "reload"
	default:
		return "unknown"
	}
}

const (
	reloadCommand  = "reload"
	heartbeatEvent = "heartbeat"
)

// Message is one decoded server frame.
type Message struct {
	Kind       Kind
	Version    string
	HasVersion bool
	Batch      store.Batch
}

// Decode parses a server frame. Accepted forms:
//
//	reload
//	"reload"
//	{"event": "reload"}
//	{"uuid": "<version>", "data": {"<ts>": {"<section>": {...}}}}
func Decode(payload []byte) (Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if string(trimmed) == reloadCommand {
		return Message{Kind: KindReload}, nil
	}
	if !gjson.ValidBytes(trimmed) {
		return Message{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}

	doc := gjson.ParseBytes(trimmed)
	if doc.Type == gjson.String {
		if doc.Str == reloadCommand {
			return Message{Kind: KindReload}, nil
		}
		return Message{}, fmt.Errorf("%w: unknown control %q", ErrMalformed, doc.Str)
	}
	if !doc.IsObject() {
		return Message{}, fmt.Errorf("%w: expected object, got %s", ErrMalformed, doc.Type)
	}
	if event := doc.Get("event"); event.Exists() {
		if event.String() == reloadCommand {
			return Message{Kind: KindReload}, nil
		}
		return Message{}, fmt.Errorf("%w: unknown event %q", ErrMalformed, event.String())
	}

	msg := Message{Kind: KindData}
	if uuid := doc.Get("uuid"); uuid.Exists() && uuid.Type != gjson.Null {
		msg.HasVersion = true
		msg.Version = uuid.String()
	}
	batch, err := store.ParseBatchResult(doc.Get("data"))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg.Batch = batch
	return msg, nil
}

// Heartbeat returns the keep-alive frame the client sends while connected.
func Heartbeat() []byte {
	return []byte(`{"event":"` + heartbeatEvent + `"}`)
}

// IsHeartbeat reports whether a client frame is a heartbeat.
func IsHeartbeat(payload []byte) bool {
	return gjson.GetBytes(bytes.TrimSpace(payload), "event").String() == heartbeatEvent
}
