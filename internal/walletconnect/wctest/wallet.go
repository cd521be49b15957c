package wctest

import (
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"
	"moff.io/moff-wallet/internal/walletconnect"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/wcprotocol"
)

// Request is a json-rpc request the wallet decrypted.
type Request struct {
	ID     int64
	Method string
	Params gjson.Result
	Topic  string
}

// Answer is a wallet reply; Hold keeps the request unanswered.
type Answer struct {
	Result interface{}
	Err    string
	Hold   bool
}

// Wallet answers session and signing requests the way a mobile wallet would.
type Wallet struct {
	bridge *Bridge
	PeerID string

	mu       sync.Mutex
	key      []byte
	chainID  uint64
	accounts []string
	clientID string
	nextID   int64
	requests []Request
	handlers map[string]func(Request) Answer
}

// NewWallet attaches a wallet holding accounts on chainID to b.
// By default it approves sessions and answers signing requests with fixed values.
func NewWallet(b *Bridge, chainID uint64, accounts ...string) *Wallet {
	w := &Wallet{
		bridge:   b,
		PeerID:   "wctest-wallet",
		chainID:  chainID,
		accounts: accounts,
		handlers: map[string]func(Request) Answer{},
	}
	w.handlers["wc_sessionRequest"] = w.approve
	w.handlers["personal_sign"] = func(Request) Answer { return Answer{Result: hexutil.Encode(FixedSignature)} }
	w.handlers["eth_signTransaction"] = func(Request) Answer { return Answer{Result: hexutil.Encode(FixedSignature)} }
	w.handlers["eth_sendTransaction"] = func(Request) Answer { return Answer{Result: FixedTxHash.Hex()} }
	b.mu.Lock()
	b.wallet = w
	b.mu.Unlock()
	return w
}

// FixedSignature is what the default handlers sign with.
var FixedSignature = append(make([]byte, 64), 27)

// FixedTxHash is what the default eth_sendTransaction handler returns.
var FixedTxHash = common.HexToHash("0x7e57")

// Pair reads the session key out of a wc: uri, like scanning the QR code.
func (w *Wallet) Pair(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return errors.Wrap(err, "parse wc uri")
	}
	key, err := hex.DecodeString(u.Query().Get("key"))
	if err != nil || len(key) != wcprotocol.KeySize {
		return errors.Errorf("wc uri has no usable key")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.key = key
	return nil
}

// Handle replaces the wallet's behaviour for method.
func (w *Wallet) Handle(method string, fn func(Request) Answer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[method] = fn
}

// Reject makes the wallet turn session requests down.
func (w *Wallet) Reject() {
	w.Handle("wc_sessionRequest", func(Request) Answer { return Answer{Err: "Session Rejected"} })
}

func (w *Wallet) Requests(method string) []Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Request
	for _, r := range w.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (w *Wallet) approve(Request) Answer {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Answer{Result: map[string]interface{}{
		"approved": true,
		"chainId":  w.chainID,
		"accounts": w.accounts,
		"peerId":   w.PeerID,
		"peerMeta": walletconnect.ClientMeta{Name: "wctest wallet", URL: "https://wallet.example"},
	}}
}

func (w *Wallet) receive(from *Relay, msg *walletconnect.SocketMessage) {
	w.mu.Lock()
	key := w.key
	w.mu.Unlock()
	if key == nil {
		return
	}
	payload, err := wcprotocol.ParsePayload([]byte(msg.Payload))
	if err != nil {
		return
	}
	plain, err := wcprotocol.Open(payload, key)
	if err != nil {
		return
	}
	doc := gjson.ParseBytes(plain)
	req := Request{
		ID:     doc.Get("id").Int(),
		Method: doc.Get("method").String(),
		Params: doc.Get("params"),
		Topic:  msg.Topic,
	}
	w.mu.Lock()
	w.requests = append(w.requests, req)
	if req.Method == "wc_sessionRequest" {
		w.clientID = req.Params.Get("0.peerId").String()
	}
	fn := w.handlers[req.Method]
	w.mu.Unlock()
	if fn == nil {
		return
	}
	answer := fn(req)
	if answer.Hold {
		return
	}
	body := map[string]interface{}{"id": req.ID, "jsonrpc": "2.0"}
	if answer.Err != "" {
		body["error"] = map[string]interface{}{"code": -32000, "message": answer.Err}
	} else {
		body["result"] = answer.Result
	}
	go w.reply(from, body)
}

func (w *Wallet) reply(to *Relay, body interface{}) {
	frame, ok := w.seal(body)
	if !ok {
		return
	}
	to.mu.Lock()
	topics := append([]string{}, to.topics...)
	to.mu.Unlock()
	if len(topics) == 0 {
		return
	}
	frame.Topic = topics[0]
	to.Deliver(frame)
}

func (w *Wallet) seal(body interface{}) (*walletconnect.SocketMessage, bool) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	w.mu.Lock()
	key, clientID := w.key, w.clientID
	w.mu.Unlock()
	if key == nil {
		return nil, false
	}
	p, err := wcprotocol.Seal(raw, key)
	if err != nil {
		return nil, false
	}
	return &walletconnect.SocketMessage{Topic: clientID, Type: "pub", Payload: p.Marshal()}, true
}

// Update pushes a wc_sessionUpdate to the client.
func (w *Wallet) Update(chainID uint64, accounts ...string) {
	w.push(map[string]interface{}{"approved": true, "chainId": chainID, "accounts": accounts})
}

// Disconnect ends the session from the wallet side.
func (w *Wallet) Disconnect() {
	w.push(map[string]interface{}{"approved": false, "chainId": nil, "accounts": nil})
}

func (w *Wallet) push(params map[string]interface{}) {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.mu.Unlock()
	frame, ok := w.seal(map[string]interface{}{
		"id":      id,
		"jsonrpc": "2.0",
		"method":  "wc_sessionUpdate",
		"params":  []interface{}{params},
	})
	if ok {
		w.bridge.broadcast(frame)
	}
}
