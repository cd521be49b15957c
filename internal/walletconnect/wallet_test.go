package walletconnect

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/wcprotocol"
)

// memRelay is an in-memory bridge. Whatever the client publishes goes to onPublish.
type memRelay struct {
	mu         sync.Mutex
	subs       []string
	published  []*SocketMessage
	messages   chan *SocketMessage
	closed     bool
	err        error
	publishErr error
	onPublish  func(*SocketMessage)
}

func newMemRelay() *memRelay {
	return &memRelay{messages: make(chan *SocketMessage, 256)}
}

func (r *memRelay) Subscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, topic)
	return nil
}

func (r *memRelay) Publish(topic, payload string, silent bool) error {
	msg := &SocketMessage{Topic: topic, Type: messagePub, Payload: payload, Silent: silent}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRelayClosed
	}
	if r.publishErr != nil {
		err := r.publishErr
		r.mu.Unlock()
		return err
	}
	r.published = append(r.published, msg)
	hook := r.onPublish
	r.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (r *memRelay) Messages() <-chan *SocketMessage {
	return r.messages
}

func (r *memRelay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *memRelay) Close() error {
	r.shutdown(nil)
	return nil
}

func (r *memRelay) shutdown(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.err = cause
	close(r.messages)
}

// push delivers an inbound frame as the bridge would.
func (r *memRelay) push(msg *SocketMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.messages <- msg
	return true
}

func (r *memRelay) publishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

type memDialer struct {
	mu     sync.Mutex
	relays []*memRelay
	err    error
	next   func() *memRelay
}

func (d *memDialer) Dial(_ context.Context, _ string) (Relay, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	r := newMemRelay()
	if d.next != nil {
		r = d.next()
	}
	d.relays = append(d.relays, r)
	return r, nil
}

func (d *memDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.relays)
}

// walletRequest is a request the simulated wallet decrypted.
type walletRequest struct {
	ID     int64
	Method string
	Params gjson.Result
	Topic  string
	Silent bool
}

// walletAnswer is what a handler wants sent back; nil means stay silent.
type walletAnswer struct {
	Result interface{}
	Err    string
}

// fakeWallet plays the wallet side of the bridge for one client.
type fakeWallet struct {
	t        *testing.T
	relay    *memRelay
	key      []byte
	clientID string
	peerID   string

	mu       sync.Mutex
	requests []walletRequest
	handlers map[string]func(walletRequest) *walletAnswer
}

func newFakeWallet(t *testing.T, relay *memRelay) *fakeWallet {
	w := &fakeWallet{
		t:        t,
		relay:    relay,
		peerID:   "wallet-peer",
		handlers: map[string]func(walletRequest) *walletAnswer{},
	}
	relay.mu.Lock()
	relay.onPublish = w.onPublish
	relay.mu.Unlock()
	return w
}

func (w *fakeWallet) bind(c *Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.key = c.key
	w.clientID = c.clientID
}

func (w *fakeWallet) handle(method string, fn func(walletRequest) *walletAnswer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[method] = fn
}

func (w *fakeWallet) approveWith(chainID uint64, accounts ...string) {
	w.handle(methodSessionRequest, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: map[string]interface{}{
			"approved": true,
			"chainId":  chainID,
			"accounts": accounts,
			"peerId":   w.peerID,
			"peerMeta": ClientMeta{Name: "Test Wallet", URL: "https://wallet.example"},
		}}
	})
}

func (w *fakeWallet) onPublish(msg *SocketMessage) {
	w.mu.Lock()
	key := w.key
	w.mu.Unlock()
	if key == nil {
		return
	}
	payload, err := wcprotocol.ParsePayload([]byte(msg.Payload))
	require.NoError(w.t, err)
	plain, err := wcprotocol.Open(payload, key)
	require.NoError(w.t, err)
	doc := gjson.ParseBytes(plain)
	req := walletRequest{
		ID:     doc.Get("id").Int(),
		Method: doc.Get("method").String(),
		Params: doc.Get("params"),
		Topic:  msg.Topic,
		Silent: msg.Silent,
	}
	w.mu.Lock()
	w.requests = append(w.requests, req)
	fn := w.handlers[req.Method]
	w.mu.Unlock()
	if fn == nil {
		return
	}
	if answer := fn(req); answer != nil {
		go w.respond(req.ID, answer)
	}
}

func (w *fakeWallet) respond(id int64, answer *walletAnswer) {
	body := map[string]interface{}{"id": id, "jsonrpc": "2.0"}
	if answer.Err != "" {
		body["error"] = map[string]interface{}{"code": -32000, "message": answer.Err}
	} else {
		body["result"] = answer.Result
	}
	w.send(body)
}

// send encrypts body for the client and pushes it through the relay.
func (w *fakeWallet) send(body interface{}) bool {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	w.mu.Lock()
	key, topic := w.key, w.clientID
	w.mu.Unlock()
	payload, err := wcprotocol.Seal(raw, key)
	if err != nil {
		panic(err)
	}
	return w.relay.push(&SocketMessage{Topic: topic, Type: messagePub, Payload: payload.Marshal()})
}

func (w *fakeWallet) pushSessionUpdate(approved bool, chainID uint64, accounts ...string) {
	w.send(map[string]interface{}{
		"id":      payloadID(),
		"jsonrpc": "2.0",
		"method":  methodSessionUpdate,
		"params":  []interface{}{map[string]interface{}{"approved": approved, "chainId": chainID, "accounts": accounts}},
	})
}

func (w *fakeWallet) requestsFor(method string) []walletRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []walletRequest
	for _, r := range w.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// recorder is a listener that asserts it only runs inside pollAll.
type recorder struct {
	t      *testing.T
	mu     sync.Mutex
	inPoll bool
	active int
	events []SessionInfo
}

func (r *recorder) OnSessionEvent(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inPoll {
		r.t.Errorf("event %v delivered outside the delivery goroutine", info.State)
	}
	r.active++
	if r.active > 1 {
		r.t.Errorf("listener invoked concurrently")
	}
	r.events = append(r.events, info)
	r.active--
}

func (r *recorder) states() []SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionState, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}

// pollAll drives d on the test goroutine until n events arrived or the deadline passes.
func (r *recorder) pollAll(d *Dispatcher, n int) {
	r.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		r.inPoll = true
		r.mu.Unlock()
		d.Poll()
		r.mu.Lock()
		r.inPoll = false
		got := len(r.events)
		r.mu.Unlock()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			r.t.Fatalf("got %d events, want %d", got, n)
		}
		time.Sleep(time.Millisecond)
	}
}

const (
	testAccount  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testAccount2 = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type harness struct {
	t      *testing.T
	dialer *memDialer
	relay  *memRelay
	wallet *fakeWallet
	client *Client
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	relay := newMemRelay()
	dialer := &memDialer{next: func() *memRelay { return relay }}
	h := &harness{t: t, dialer: dialer, relay: relay, events: &recorder{t: t}}
	h.wallet = newFakeWallet(t, relay)
	c, err := New(context.Background(), h.options())
	require.NoError(t, err)
	h.wallet.bind(c)
	c.SetupCallback(h.events)
	h.client = c
	t.Cleanup(c.Destroy)
	return h
}

func (h *harness) options() Options {
	return Options{
		Description: "test dapp",
		URL:         "https://dapp.example",
		Icons:       []string{"https://dapp.example/icon.png"},
		Name:        "Test Dapp",
		ChainID:     25,
		Bridge:      "https://bridge.example",
		Dialer:      h.dialer,
		NodeDialer: func(ctx context.Context, url string) (NodeReader, error) {
			return nil, errors.New("no node in tests")
		},
		RequestTimeout: 5 * time.Second,
	}
}

func (h *harness) connect() *SessionResult {
	h.t.Helper()
	h.wallet.approveWith(25, testAccount)
	res, err := h.client.EnsureSession(context.Background())
	require.NoError(h.t, err)
	return res
}

func waitPending(t *testing.T, c *Client, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.pending.len() == n }, 2*time.Second, time.Millisecond)
}
