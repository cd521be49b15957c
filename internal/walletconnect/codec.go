package walletconnect

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"moff.io/moff-wallet/pkg/wcprotocol"
)

// sessionFields must all be present in a persisted session.
var sessionFields = []string{
	"connected",
	"accounts",
	"chain_id",
	"bridge",
	"key",
	"client_id",
	"client_meta",
	"peer_id",
	"peer_meta",
	"handshake_topic",
}

// SerializeSession renders s in the durable JSON form.
func SerializeSession(s *Session) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", newError(KindSerialization, "serialize", "marshal session", err)
	}
	return string(b), nil
}

// DeserializeSession parses the durable JSON form. It never panics on bad input.
func DeserializeSession(data string) (*Session, error) {
	const op = "deserialize"
	if strings.TrimSpace(data) == "" {
		return nil, newError(KindSerialization, op, "empty session", nil)
	}
	if !gjson.Valid(data) {
		return nil, newError(KindSerialization, op, "malformed session json", nil)
	}
	root := gjson.Parse(data)
	if !root.IsObject() {
		return nil, newError(KindSerialization, op, "session is not a json object", nil)
	}
	for _, field := range sessionFields {
		if !root.Get(field).Exists() {
			return nil, newError(KindSerialization, op, "missing field "+field, nil)
		}
	}
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, newError(KindSerialization, op, "decode session", err)
	}
	if len(s.Key) != wcprotocol.KeySize {
		return nil, newError(KindSerialization, op, "session key must be 32 bytes", nil)
	}
	if s.ClientID == "" || s.HandshakeTopic == "" || s.Bridge == "" {
		return nil, newError(KindSerialization, op, "session identity is incomplete", nil)
	}
	if s.Connected && len(s.Accounts) == 0 {
		return nil, newError(KindSerialization, op, "connected session without accounts", nil)
	}
	return &s, nil
}
