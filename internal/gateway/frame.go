package gateway

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/modelexchange/mxf/pkg/models"
)

const (
	frameEvent    = "event"
	frameRequest  = "request"
	frameResponse = "response"
)

// frame is the wire unit. Events carry a full envelope; requests and
// responses pair by id.
type frame struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Event   *models.Envelope `json:"event,omitempty"`
	OK      *bool            `json:"ok,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Error   *frameError      `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *frameError) text() string {
	if e == nil {
		return "rejected"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

type connectParams struct {
	DomainKey string      `json:"domainKey"`
	AgentID   string      `json:"agentId"`
	ChannelID string      `json:"channelId"`
	Auth      authPayload `json:"auth"`
}

type authPayload struct {
	KeyID string `json:"keyId"`
	Token string `json:"token"`
}

type subscribeParams struct {
	ChannelID string `json:"channelId"`
}

type executeParams struct {
	ServerID string          `json:"serverId,omitempty"`
	Tool     string          `json:"tool"`
	Input    json.RawMessage `json:"input"`
}

type listToolsParams struct {
	AgentID string `json:"agentId"`
}

// credentialTTL bounds how long a handshake token stays valid.
const credentialTTL = 2 * time.Minute

// signCredentials mints a short-lived HMAC token over the key pair.
func signCredentials(keyID, secretKey string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   keyID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(credentialTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
