package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MsgType is the discriminating tag of an Envelope. The tag set is closed;
// frames carrying any other tag decode to MsgUnknown.
type MsgType string

// The envelope tag set.
const (
	MsgChat     MsgType = "chat.message"
	MsgDelivery MsgType = "chat.delivery"
	MsgAck      MsgType = "system.ack"
	MsgPing     MsgType = "system.ping"
	MsgPong     MsgType = "system.pong"
	MsgError    MsgType = "system.error"

	// MsgUnknown marks a frame whose type tag is missing or outside the
	// set above. Such frames are answered with an error envelope rather
	// than terminating the session.
	MsgUnknown MsgType = ""
)

// protocolVersion is carried on every envelope but not yet interpreted.
const protocolVersion = 1

// Envelope is the wire unit: a discriminated message whose meaningful
// fields depend on Type. Unused fields are omitted from the encoding.
type Envelope struct {
	Type    MsgType `json:"type"`
	ID      string  `json:"id,omitempty"`
	Version int     `json:"version"`
	Room    string  `json:"room,omitempty"`
	User    string  `json:"user,omitempty"`
	Text    string  `json:"text,omitempty"`
	Ref     string  `json:"ref,omitempty"`
	TS      float64 `json:"ts,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func knownType(t MsgType) bool {
	switch t {
	case MsgChat, MsgDelivery, MsgAck, MsgPing, MsgPong, MsgError:
		return true
	}
	return false
}

// DecodeEnvelope parses a raw JSON frame. Malformed JSON is a decode
// error; a well-formed frame with an unrecognized tag is not, it decodes
// with Type set to MsgUnknown so the caller can answer instead of failing.
// A missing version defaults to 1.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Version == 0 {
		env.Version = protocolVersion
	}
	if !knownType(env.Type) {
		env.Type = MsgUnknown
	}
	return env, nil
}

// Encode serializes the envelope as deterministic JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func newMessageID() string {
	return uuid.NewString()
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewDelivery builds the server-stamped fan-out form of a chat message.
func NewDelivery(room, user, text, id string) Envelope {
	return Envelope{
		Type:    MsgDelivery,
		ID:      id,
		Version: protocolVersion,
		Room:    room,
		User:    user,
		Text:    text,
		TS:      nowUnix(),
	}
}

// NewAck builds an acknowledgment referencing an inbound message id.
func NewAck(ref string) Envelope {
	return Envelope{Type: MsgAck, Version: protocolVersion, Ref: ref}
}

// NewPing builds the application-level heartbeat ping.
func NewPing() Envelope {
	return Envelope{Type: MsgPing, Version: protocolVersion, TS: nowUnix()}
}

// NewErrorEnvelope builds an error reply carrying a short machine-readable
// code such as "unknown_type" or "bad_payload".
func NewErrorEnvelope(code string) Envelope {
	return Envelope{Type: MsgError, Version: protocolVersion, Error: code}
}
