package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown envelope type")
)

// ProtocolError reports an inbound frame that could not be decoded.
type ProtocolError struct {
	Type Type
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return "protocol: " + e.Err.Error()
	}
	return fmt.Sprintf("protocol: %s: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Decode parses one inbound frame into its concrete envelope.
func Decode(data []byte) (Inbound, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ProtocolError{Err: ErrMalformed}
	}
	t := Type(gjson.GetBytes(data, "type").String())

	var in Inbound
	switch t {
	case TypeWelcome:
		in = &Welcome{}
	case TypePong:
		in = &Pong{}
	case TypeAuthSuccess:
		in = &AuthSuccess{}
	case TypeAuthError:
		in = &AuthError{}
	case TypeConversations, TypeAllConversations:
		in = &Conversations{}
	case TypeUsers, TypeAllUsers:
		in = &Users{}
	case TypeHistory, TypeMessages:
		in = &History{}
	case TypeNewMessage:
		in = &NewMessage{}
	case TypeMessageSent:
		in = &MessageSent{}
	case TypeUnreadMessages:
		in = &UnreadMessages{}
	case TypeUserStatusChange:
		return decodeStatusChange(data)
	case TypeError:
		in = &ErrorEvent{}
	case "":
		return nil, &ProtocolError{Err: fmt.Errorf("%w: missing type", ErrMalformed)}
	default:
		return nil, &ProtocolError{Type: t, Err: ErrUnknownType}
	}

	if err := json.Unmarshal(data, in); err != nil {
		return nil, &ProtocolError{Type: t, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return in, nil
}

// decodeStatusChange accepts the user either as an object or a bare id.
func decodeStatusChange(data []byte) (Inbound, error) {
	ev := &UserStatusChange{Header: Header{
		Kind:      TypeUserStatusChange,
		MessageID: gjson.GetBytes(data, "messageId").String(),
	}}

	u := gjson.GetBytes(data, "user")
	switch {
	case u.IsObject():
		if err := json.Unmarshal([]byte(u.Raw), &ev.User); err != nil {
			return nil, &ProtocolError{Type: TypeUserStatusChange, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
	case u.Type == gjson.String:
		ev.User.ID = u.String()
	}
	if ev.User.ID == "" {
		ev.User.ID = gjson.GetBytes(data, "userId").String()
	}
	if ev.User.ID == "" {
		return nil, &ProtocolError{Type: TypeUserStatusChange, Err: fmt.Errorf("%w: missing user", ErrMalformed)}
	}

	if online := gjson.GetBytes(data, "isOnline"); online.Exists() {
		ev.IsOnline = online.Bool()
	} else {
		ev.IsOnline = ev.User.IsOnline
	}
	ev.User.IsOnline = ev.IsOnline
	if ls := gjson.GetBytes(data, "lastSeen"); ls.Exists() && ls.String() != "" {
		t := ls.Time()
		ev.User.LastSeen = &t
	}
	return ev, nil
}

// Encode serializes an outbound envelope, stamping its type and key.
func Encode(out Outbound, key string) ([]byte, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", out.Type(), err)
	}
	body, err = sjson.SetBytes(body, "type", string(out.Type()))
	if err != nil {
		return nil, fmt.Errorf("stamp type: %w", err)
	}
	if key != "" {
		body, err = sjson.SetBytes(body, "messageId", key)
		if err != nil {
			return nil, fmt.Errorf("stamp key: %w", err)
		}
	}
	return body, nil
}
