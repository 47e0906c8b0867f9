// Package stream runs the WebSocket invocation protocol: one invocation
// per connection, state carried entirely by a client-held task token.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTokenDecode marks a task token that could not be decoded.
var ErrTokenDecode = errors.New("invalid task token")

// TokenVersion is written into newly encoded tokens so later fields can
// be added without breaking outstanding ones.
const TokenVersion = 1

// Invocation is the full state of one streaming invocation. The token
// is the state: nothing is kept server side between the create call and
// the socket connect.
type Invocation struct {
	Version    int             `json:"v"`
	Model      string          `json:"model,omitempty"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// EncodeToken serializes the invocation into a URL-safe task token.
func EncodeToken(inv Invocation) (string, error) {
	inv.Version = TokenVersion
	data, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("encoding task token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a task token. Tokens minted before versioning
// carry no "v" field and decode as version 1; standard base64 alphabet
// tokens from older clients are accepted too.
func DecodeToken(token string) (Invocation, error) {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		data, err = base64.StdEncoding.DecodeString(token)
	}
	if err != nil {
		return Invocation{}, fmt.Errorf("%w: %v", ErrTokenDecode, err)
	}
	var inv Invocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return Invocation{}, fmt.Errorf("%w: %v", ErrTokenDecode, err)
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	return inv, nil
}
