package walletconnect

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

const (
	messagePub = "pub"
	messageSub = "sub"
	messageAck = "ack"

	methodSessionRequest  = "wc_sessionRequest"
	methodSessionUpdate   = "wc_sessionUpdate"
	methodPersonalSign    = "personal_sign"
	methodSignTransaction = "eth_signTransaction"
	methodSendTransaction = "eth_sendTransaction"
)

// SocketMessage is one bridge frame.
type SocketMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func parseSocketMessage(data []byte) (*SocketMessage, error) {
	var msg SocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *SocketMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

type jsonRpcRequest struct {
	ID      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		ID:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() string {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

// Bridges push non silent messages to the wallet's push server.
func (e *jsonRpcRequest) IsSilentPayload() bool {
	return strings.HasPrefix(e.Method, "wc_")
}

var lastPayloadID atomic.Int64

// payloadID is a microsecond timestamp, bumped so ids stay unique and increasing.
// It stays far below 2^53 so javascript wallets read it back exactly.
func payloadID() int64 {
	for {
		id := time.Now().UnixNano() / 1000
		last := lastPayloadID.Load()
		if id <= last {
			id = last + 1
		}
		if lastPayloadID.CAS(last, id) {
			return id
		}
	}
}

// response is a decrypted json-rpc answer from the wallet.
type response struct {
	id      int64
	raw     string
	result  gjson.Result
	errMsg  string
	errCode int64

	// set by a pending request's apply hook
	rejected bool
	session  *SessionResult
}

func parseResponse(doc gjson.Result) *response {
	r := &response{
		id:     doc.Get("id").Int(),
		raw:    doc.Raw,
		result: doc.Get("result"),
	}
	if e := doc.Get("error"); e.Exists() && e.Type != gjson.Null {
		r.errCode = e.Get("code").Int()
		r.errMsg = e.Get("message").String()
		if r.errMsg == "" {
			r.errMsg = e.String()
		}
	}
	return r
}

func (r *response) failed() bool {
	return r.errMsg != ""
}

type sessionRequestParams struct {
	PeerID   string      `json:"peerId"`
	PeerMeta ClientMeta  `json:"peerMeta"`
	ChainID  interface{} `json:"chainId"`
}

type sessionUpdateParams struct {
	Approved bool        `json:"approved"`
	ChainID  interface{} `json:"chainId"`
	Accounts interface{} `json:"accounts"`
}
