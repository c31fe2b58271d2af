package router

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pscheid92/radar/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("truthy", func(fl validator.FieldLevel) bool {
		return truthy(fl.Field().Bytes())
	})
	return v
}

// Inbound is one decoded client frame. The concrete type is one of
// UpdateProfile, UpdateLocation, ChatPrivate, ChatGroup, Ping, Unknown or Rejected.
type Inbound interface {
	Type() domain.MessageType
}

// UpdateProfile carries the profile fields present as strings in the payload.
// A nil field is left untouched.
type UpdateProfile struct {
	Name  *string
	Bio   *string
	Color *string
}

type UpdateLocation struct {
	Coords domain.Coords
}

// ChatPrivate.To is the raw JSON value the client sent. Only a string can
// name a participant, but any truthy value is accepted and echoed back.
type ChatPrivate struct {
	To   json.RawMessage
	Text string
}

type ChatGroup struct {
	Text string
}

type Ping struct {
	To json.RawMessage
}

// Unknown is a well-formed frame whose type is not handled.
type Unknown struct {
	Name string
}

// Rejected is a well-formed frame of a known type whose payload failed validation.
type Rejected struct {
	Kind domain.MessageType
	Err  error
}

func (UpdateProfile) Type() domain.MessageType  { return domain.MsgUpdateProfile }
func (UpdateLocation) Type() domain.MessageType { return domain.MsgUpdateLocation }
func (ChatPrivate) Type() domain.MessageType    { return domain.MsgChatPrivate }
func (ChatGroup) Type() domain.MessageType      { return domain.MsgChatGroup }
func (Ping) Type() domain.MessageType           { return domain.MsgPing }
func (u Unknown) Type() domain.MessageType      { return domain.MessageType(u.Name) }
func (r Rejected) Type() domain.MessageType     { return r.Kind }

// Payload fields are looked up by exact key, so "Text" or "TO" never stand
// in for "text" and "to".
type locationPayload struct {
	Latitude  *float64 `validate:"required"`
	Longitude *float64 `validate:"required"`
}

type chatPrivatePayload struct {
	To   json.RawMessage `validate:"truthy"`
	Text string          `validate:"required"`
}

type chatGroupPayload struct {
	Text string `validate:"required"`
}

type pingPayload struct {
	To json.RawMessage `validate:"truthy"`
}

// Decode parses a raw client frame. Only frames that are not a JSON object
// return an error (ErrMalformedFrame); every other outcome, including an
// invalid payload or an unhandled type, is a variant.
func Decode(raw []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, domain.ErrMalformedFrame
	}

	var frame map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	name, ok := stringValue(frame["type"])
	if !ok {
		return Unknown{}, nil
	}
	payload := frame["payload"]

	switch domain.MessageType(name) {
	case domain.MsgUpdateProfile:
		return decodeProfile(payload), nil

	case domain.MsgUpdateLocation:
		coords := objectFields(objectFields(payload)["coords"])
		p := locationPayload{
			Latitude:  numberValue(coords["latitude"]),
			Longitude: numberValue(coords["longitude"]),
		}
		if err := validatePayload(&p); err != nil {
			return Rejected{Kind: domain.MsgUpdateLocation, Err: err}, nil
		}
		return UpdateLocation{Coords: domain.Coords{
			Latitude:  *p.Latitude,
			Longitude: *p.Longitude,
		}}, nil

	case domain.MsgChatPrivate:
		fields := objectFields(payload)
		text, _ := stringValue(fields["text"])
		p := chatPrivatePayload{To: fields["to"], Text: text}
		if err := validatePayload(&p); err != nil {
			return Rejected{Kind: domain.MsgChatPrivate, Err: err}, nil
		}
		return ChatPrivate{To: p.To, Text: p.Text}, nil

	case domain.MsgChatGroup:
		text, _ := stringValue(objectFields(payload)["text"])
		p := chatGroupPayload{Text: text}
		if err := validatePayload(&p); err != nil {
			return Rejected{Kind: domain.MsgChatGroup, Err: err}, nil
		}
		return ChatGroup{Text: p.Text}, nil

	case domain.MsgPing:
		p := pingPayload{To: objectFields(payload)["to"]}
		if err := validatePayload(&p); err != nil {
			return Rejected{Kind: domain.MsgPing, Err: err}, nil
		}
		return Ping{To: p.To}, nil

	default:
		return Unknown{Name: name}, nil
	}
}

// decodeProfile never rejects: each field applies on its own if it is a
// string, and a missing or non-object payload is an empty update.
func decodeProfile(payload json.RawMessage) UpdateProfile {
	fields := objectFields(payload)

	var u UpdateProfile
	if s, ok := stringValue(fields["name"]); ok {
		u.Name = &s
	}
	if s, ok := stringValue(fields["bio"]); ok {
		u.Bio = &s
	}
	if s, ok := stringValue(fields["color"]); ok {
		u.Color = &s
	}
	return u
}

func validatePayload(dst any) error {
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// objectFields splits a JSON object into its members, keyed exactly as sent.
// Anything else, including a missing value, yields an empty (nil) map.
func objectFields(raw json.RawMessage) map[string]json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// stringValue reports whether raw is a JSON string and returns it.
// JSON null would otherwise unmarshal into "" without error.
func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// numberValue returns raw as a float if it is a JSON number, nil otherwise.
func numberValue(raw json.RawMessage) *float64 {
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

// truthy mirrors how clients test for a present value: missing, null, false,
// zero and the empty string are all absent.
func truthy(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case '"':
		s, ok := stringValue(raw)
		return ok && s != ""
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			// out of float64 range, so certainly not zero
			return true
		}
		return f != 0
	default:
		return true
	}
}
