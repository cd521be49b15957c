package walletconnect

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/moff-wallet/internal/contract"
	"moff.io/moff-wallet/pkg/concurrent"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/wcprotocol"
)

type Client struct {
	opts  Options
	relay Relay

	dispatcher     *Dispatcher
	ownsDispatcher bool
	pending        *pendingRequests
	// one blocking call at a time, first come first served
	gate concurrent.Limiter

	// identity, fixed for the client's lifetime
	key            []byte
	clientID       string
	handshakeTopic string
	bridge         string

	mu      sync.RWMutex
	session Session
	state   SessionState

	relayAlive  atomic.Bool
	destroyed   atomic.Bool
	done        chan struct{}
	destroyOnce sync.Once
}

// New opens a relay connection for a fresh session identity.
// It does not wait for any wallet; call EnsureSession for that.
func New(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	key, err := wcprotocol.GenerateRandomBytes(wcprotocol.KeySize)
	if err != nil {
		return nil, newError(KindEncoding, "new", "generate session key", err)
	}
	bridge := opts.Bridge
	if bridge == "" {
		bridge = wcprotocol.RandomBridgeURL()
	}
	s := Session{
		ChainID:        opts.ChainID,
		Bridge:         bridge,
		Key:            key,
		ClientID:       uuid.NewString(),
		ClientMeta:     opts.clientMeta(),
		HandshakeTopic: uuid.NewString(),
	}
	return open(ctx, "new", opts, s, StateDisconnected)
}

// Restore reopens a session saved with Save on its bridge, key and topics.
// A session that was connected comes back in StateRestored.
func Restore(ctx context.Context, serialized string, opts Options) (*Client, error) {
	s, err := DeserializeSession(serialized)
	if err != nil {
		return nil, err
	}
	state := StateDisconnected
	if s.Connected {
		state = StateRestored
	}
	return open(ctx, "restore", opts.withDefaults(), *s, state)
}

func open(ctx context.Context, op string, opts Options, s Session, state SessionState) (*Client, error) {
	relay, err := opts.Dialer.Dial(ctx, s.Bridge)
	if err != nil {
		return nil, relayError(op, "open relay", err)
	}
	if err := relay.Subscribe(s.ClientID); err != nil {
		_ = relay.Close()
		return nil, relayError(op, "subscribe to client topic", err)
	}
	c := &Client{
		opts:           opts,
		relay:          relay,
		dispatcher:     opts.Dispatcher,
		pending:        newPendingRequests(),
		gate:           concurrent.NewLimiter(1),
		key:            append([]byte{}, s.Key...),
		clientID:       s.ClientID,
		handshakeTopic: s.HandshakeTopic,
		bridge:         s.Bridge,
		session:        s,
		state:          state,
		done:           make(chan struct{}),
	}
	if c.dispatcher == nil {
		c.dispatcher = NewDispatcher()
		c.ownsDispatcher = true
	}
	c.relayAlive.Store(true)
	go c.readLoop()
	log.Infof("wallet connect - %v client %v on %v, state %v", op, s.ClientID, s.Bridge, state)
	return c, nil
}

// SetupCallback makes l the only listener of this client's session events.
// A client opened on a dispatcher from Options shares it with its owner, so the
// listener slot is not the client's to replace and SetupCallback fails.
func (c *Client) SetupCallback(l Listener) error {
	if !c.ownsDispatcher {
		return newError(KindInvalidClient, "setup_callback", "dispatcher is shared, register with its owner", nil)
	}
	c.dispatcher.SetListener(l)
	return nil
}

// Dispatcher delivers this client's events. Drive it with Run or Poll.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// ConnectionString returns the wc: uri to show as a link or QR code.
func (c *Client) ConnectionString() (string, error) {
	if c.destroyed.Load() {
		return "", invalidClient("connection_string")
	}
	uri := wcprotocol.ConnectionURI(c.handshakeTopic, c.bridge, c.key)
	log.Debugf("wallet connect - generated uri:%v", uri)
	return uri, nil
}

// Session returns a snapshot of the session.
func (c *Client) Session() SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.info(c.state)
}

func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Save serializes the current session.
func (c *Client) Save() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SerializeSession(&c.session)
}

// EnsureSession returns the approved accounts, asking the wallet for them if the
// session is not connected yet. It blocks until the wallet answers, the relay
// fails, ctx is done or the client is destroyed.
func (c *Client) EnsureSession(ctx context.Context) (*SessionResult, error) {
	const op = "ensure_session"
	ctx, release, err := c.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	if res, ok := c.connectedResult(); ok {
		return res, nil
	}

	c.mu.Lock()
	params := sessionRequestParams{PeerID: c.clientID, PeerMeta: c.session.ClientMeta.clone()}
	if c.session.ChainID != 0 {
		params.ChainID = c.session.ChainID
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	req := newJSONRpcRequest(methodSessionRequest, params)
	resp, err := c.roundTrip(ctx, op, c.handshakeTopic, req, c.applySessionResponse)
	if err != nil {
		return nil, err
	}
	if resp.rejected {
		log.Infof("wallet connect - session request rejected by wallet:%v", resp.errMsg)
		return &SessionResult{Rejected: true}, nil
	}
	return resp.session, nil
}

func (c *Client) connectedResult() (*SessionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.session.Connected {
		return nil, false
	}
	return c.resultLocked(), true
}

func (c *Client) resultLocked() *SessionResult {
	return &SessionResult{
		Addresses: append([]common.Address{}, c.session.Accounts...),
		ChainID:   c.session.ChainID,
	}
}

// applySessionResponse runs on the relay goroutine. A rejection leaves the session untouched.
func (c *Client) applySessionResponse(resp *response) error {
	const op = "ensure_session"
	// an error answer to wc_sessionRequest is the wallet declining, whatever it says
	if resp.failed() {
		resp.rejected = true
		return nil
	}
	result := resp.result
	if !result.Get("approved").Bool() {
		resp.rejected = true
		return nil
	}
	accounts, err := parseAccounts(result.Get("accounts"))
	if err != nil {
		return newError(KindEncoding, op, "wallet accounts", err)
	}
	var peerMeta *ClientMeta
	if pm := result.Get("peerMeta"); pm.IsObject() {
		var m ClientMeta
		if err := json.Unmarshal([]byte(pm.Raw), &m); err == nil {
			peerMeta = &m
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Connected = true
	c.session.Accounts = accounts
	if chainID := result.Get("chainId").Uint(); chainID != 0 {
		c.session.ChainID = chainID
	}
	c.session.PeerID = result.Get("peerId").String()
	c.session.PeerMeta = peerMeta
	c.setStateLocked(StateConnected)
	resp.session = c.resultLocked()
	log.Infof("wallet connect - session approved, %v accounts on chain %v", len(accounts), c.session.ChainID)
	return nil
}

func parseAccounts(list gjson.Result) ([]common.Address, error) {
	if !list.IsArray() {
		return nil, errors.New("accounts is not an array")
	}
	var accounts []common.Address
	for _, item := range list.Array() {
		a, err := ParseAddress(item.String())
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// SignPersonal asks the wallet for an EIP-191 signature of message by address.
func (c *Client) SignPersonal(ctx context.Context, message string, address common.Address) ([]byte, error) {
	const op = "sign_personal"
	ctx, release, err := c.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()
	peer, err := c.peerTopic(op, address)
	if err != nil {
		return nil, err
	}

	req := newJSONRpcRequest(methodPersonalSign, hexutil.Encode([]byte(message)), strings.ToLower(address.Hex()))
	resp, err := c.roundTrip(ctx, op, peer, req, nil)
	if err != nil {
		return nil, err
	}
	if resp.failed() {
		return nil, newError(KindSigningRejected, op, resp.errMsg, nil)
	}
	sig, err := decodeSignature(resp.result.String())
	if err != nil {
		return nil, newError(KindEncoding, op, "wallet signature", err)
	}
	if !VerifyPersonalSignature(address, []byte(message), sig) {
		log.Warnf("wallet connect - personal signature does not recover to %v", address.Hex())
	}
	return sig, nil
}

// SignEip155Transaction asks the wallet to sign tx without broadcasting it.
func (c *Client) SignEip155Transaction(ctx context.Context, tx Eip155Tx, address common.Address) ([]byte, error) {
	const op = "sign_transaction"
	ctx, release, err := c.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := c.transactionRequest(ctx, op, methodSignTransaction, tx, address)
	if err != nil {
		return nil, err
	}
	sig, err := transactionSignature(resp.result.String())
	if err != nil {
		return nil, newError(KindEncoding, op, "wallet transaction signature", err)
	}
	return sig, nil
}

// SendEip155Transaction asks the wallet to sign and broadcast tx.
func (c *Client) SendEip155Transaction(ctx context.Context, tx Eip155Tx, address common.Address) (common.Hash, error) {
	const op = "send_transaction"
	ctx, release, err := c.begin(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()
	return c.sendTransaction(ctx, op, tx, address)
}

// SendContractTransaction encodes action, builds its call data and sends it
// to the contract as an EIP-155 transaction with zero value.
func (c *Client) SendContractTransaction(ctx context.Context, action contract.Action, txCommon TxCommon, address common.Address) (common.Hash, error) {
	payload, err := contract.Encode(action)
	if err != nil {
		return common.Hash{}, newError(KindEncoding, "send_contract_transaction", "encode contract action", err)
	}
	return c.SendContractTransactionJSON(ctx, payload, txCommon, address)
}

// SendContractTransactionJSON is SendContractTransaction for an already encoded action envelope.
func (c *Client) SendContractTransactionJSON(ctx context.Context, payload string, txCommon TxCommon, address common.Address) (common.Hash, error) {
	const op = "send_contract_transaction"
	ctx, release, err := c.begin(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	log.Debugf("wallet connect - contract action:%v", payload)
	action, err := contract.Decode(payload)
	if err != nil {
		return common.Hash{}, newError(KindEncoding, op, "decode contract action", err)
	}
	to, data, err := action.CallData()
	if err != nil {
		return common.Hash{}, newError(KindEncoding, op, "build call data for "+action.Variant(), err)
	}
	tx := Eip155Tx{To: to.Hex(), Value: "0", Data: data, Common: txCommon}
	return c.sendTransaction(ctx, op, tx, address)
}

func (c *Client) sendTransaction(ctx context.Context, op string, tx Eip155Tx, address common.Address) (common.Hash, error) {
	resp, err := c.transactionRequest(ctx, op, methodSendTransaction, tx, address)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := decodeHash(resp.result.String())
	if err != nil {
		return common.Hash{}, newError(KindEncoding, op, "wallet transaction hash", err)
	}
	log.Infof("wallet connect - transaction sent:%v", hash.Hex())
	return hash, nil
}

func (c *Client) transactionRequest(ctx context.Context, op, method string, tx Eip155Tx, address common.Address) (*response, error) {
	peer, err := c.peerTopic(op, address)
	if err != nil {
		return nil, err
	}
	if tx.Common.ChainID == 0 {
		c.mu.RLock()
		tx.Common.ChainID = c.session.ChainID
		c.mu.RUnlock()
	}
	if tx.Common.ChainID == 0 {
		return nil, newError(KindEncoding, op, "chain id is zero", nil)
	}
	if err := tx.complete(ctx, c.opts.NodeDialer, address); err != nil {
		return nil, newError(KindRelay, op, "complete transaction from web3 api", err)
	}
	params, err := tx.params(address)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, op, peer, newJSONRpcRequest(method, params), nil)
	if err != nil {
		return nil, err
	}
	if resp.failed() {
		return nil, newError(KindSigningRejected, op, resp.errMsg, nil)
	}
	return resp, nil
}

// peerTopic returns where requests for address go. address must be one of the approved accounts.
func (c *Client) peerTopic(op string, address common.Address) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.session.Connected || c.session.PeerID == "" {
		return "", newError(KindInvalidClient, op, "session is not connected", nil)
	}
	for _, a := range c.session.Accounts {
		if a == address {
			return c.session.PeerID, nil
		}
	}
	return "", newError(KindInvalidClient, op, address.Hex()+" is not an account of this session", nil)
}

// Disconnect tells the wallet the session is over and moves to StateDisconnected.
// Outstanding requests fail with Cancelled.
func (c *Client) Disconnect() error {
	const op = "disconnect"
	if c.destroyed.Load() {
		return invalidClient(op)
	}
	c.mu.RLock()
	peer, connected := c.session.PeerID, c.session.Connected
	c.mu.RUnlock()
	if connected && peer != "" && c.relayAlive.Load() {
		req := newJSONRpcRequest(methodSessionUpdate, sessionUpdateParams{Approved: false})
		if err := c.publish(peer, req); err != nil {
			log.Warnf("wallet connect - notify wallet of disconnect:%v", err)
		}
	}
	c.pending.failAll(cancelled(op, nil))
	c.markDisconnected()
	return nil
}

// Destroy releases the relay and fails outstanding calls with Cancelled.
// It is safe to call more than once.
func (c *Client) Destroy() {
	c.destroyOnce.Do(func() {
		c.destroyed.Store(true)
		close(c.done)
		if n := c.pending.close(cancelled("destroy", nil)); n > 0 {
			log.Infof("wallet connect - cancelled %v pending requests", n)
		}
		if err := c.relay.Close(); err != nil {
			log.Warnf("wallet connect - close relay:%v", err)
		}
		if c.ownsDispatcher {
			c.dispatcher.Close()
		}
		log.Infof("wallet connect - client %v destroyed", c.clientID)
	})
}

func (c *Client) Destroyed() bool {
	return c.destroyed.Load()
}

// RelayAlive reports whether the bridge connection is still open.
// A client whose relay is gone can only fail; restore its saved session on a new client.
func (c *Client) RelayAlive() bool {
	return c.relayAlive.Load()
}

// begin admits a blocking call: it checks the client is usable, bounds ctx by the
// request timeout and the client's lifetime, and waits for the call's turn.
func (c *Client) begin(ctx context.Context, op string) (context.Context, func(), error) {
	if c.destroyed.Load() {
		return nil, nil, invalidClient(op)
	}
	if !c.relayAlive.Load() {
		return nil, nil, newError(KindRelay, op, "relay connection is down", c.relay.Err())
	}
	ctx, cancel := c.lifetime(ctx)
	if err := c.gate.Acquire(ctx); err != nil {
		cancel()
		if c.destroyed.Load() {
			return nil, nil, cancelled(op, nil)
		}
		return nil, nil, cancelled(op, err)
	}
	return ctx, func() {
		c.gate.Done()
		cancel()
	}, nil
}

func (c *Client) lifetime(ctx context.Context) (context.Context, context.CancelFunc) {
	cancelTimeout := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancelTimeout = context.WithTimeout(ctx, c.opts.RequestTimeout)
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		cancel()
		cancelTimeout()
	}
}

func (c *Client) publish(topic string, req *jsonRpcRequest) error {
	payload, err := wcprotocol.Seal([]byte(req.Marshal()), c.key)
	if err != nil {
		return errors.Wrap(err, "encrypt request")
	}
	return c.relay.Publish(topic, payload.Marshal(), req.IsSilentPayload())
}

// roundTrip publishes req and waits for its response.
func (c *Client) roundTrip(ctx context.Context, op, topic string, req *jsonRpcRequest, apply func(*response) error) (resp *response, err error) {
	start := time.Now()
	if c.opts.Observer != nil {
		defer func() {
			c.opts.Observer.ObserveRequest(req.Method, err, time.Since(start))
		}()
	}

	p, err := c.pending.add(req.ID, req.Method, apply)
	if err != nil {
		return nil, cancelled(op, nil)
	}
	defer c.pending.remove(req.ID)
	if !c.relayAlive.Load() {
		return nil, newError(KindRelay, op, "relay connection is down", c.relay.Err())
	}
	log.Debugf("wallet connect - %v request %v to %v", req.Method, req.ID, topic)
	if err := c.publish(topic, req); err != nil {
		return nil, relayError(op, "publish request", err)
	}

	select {
	case out := <-p.slot:
		if out.err != nil {
			return nil, out.err
		}
		return out.resp, nil
	case <-ctx.Done():
		if c.destroyed.Load() {
			return nil, cancelled(op, nil)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindRelay, op, "timed out waiting for the wallet", ctx.Err())
		}
		return nil, cancelled(op, ctx.Err())
	}
}

// readLoop is the relay goroutine. Every session change caused by the wallet happens here.
func (c *Client) readLoop() {
	for msg := range c.relay.Messages() {
		c.handleMessage(msg)
	}
	c.relayAlive.Store(false)
	if c.destroyed.Load() {
		return
	}
	cause := c.relay.Err()
	log.Warnf("wallet connect - relay for %v closed:%v", c.clientID, cause)
	c.pending.failAll(newError(KindRelay, "relay", "relay connection closed", cause))
	c.markRelayLost()
}

func (c *Client) handleMessage(msg *SocketMessage) {
	payload, err := wcprotocol.ParsePayload([]byte(msg.Payload))
	if err != nil {
		log.Warnf("wallet connect - dropping frame on %v:%v", msg.Topic, err)
		return
	}
	plain, err := wcprotocol.Open(payload, c.key)
	if err != nil {
		log.Warnf("wallet connect - dropping frame on %v:%v", msg.Topic, err)
		return
	}
	log.Debugf("wallet connect - receive:%v", string(plain))
	doc := gjson.ParseBytes(plain)
	if method := doc.Get("method"); method.Exists() {
		c.handleRequest(method.String(), doc)
		return
	}
	resp := parseResponse(doc)
	if !c.pending.resolve(resp) {
		log.Debugf("wallet connect - no pending request for response %v", resp.id)
	}
}

func (c *Client) handleRequest(method string, doc gjson.Result) {
	switch method {
	case methodSessionUpdate:
		c.handleSessionUpdate(doc.Get("params.0"))
	default:
		log.Warnf("wallet connect - unsupported request from wallet:%v", method)
	}
}

func (c *Client) handleSessionUpdate(params gjson.Result) {
	if !params.Exists() {
		log.Warnf("wallet connect - session update without params")
		return
	}
	if approved := params.Get("approved"); approved.Exists() && !approved.Bool() {
		log.Warnf("wallet connect - session closed by wallet")
		if c.markDisconnected() {
			c.pending.failAll(newError(KindRelay, "session_update", "session closed by wallet", nil))
		}
		return
	}
	var accounts []common.Address
	if list := params.Get("accounts"); list.IsArray() {
		var err error
		if accounts, err = parseAccounts(list); err != nil {
			log.Warnf("wallet connect - ignoring session update:%v", err)
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Connected {
		log.Warnf("wallet connect - session update before approval ignored")
		return
	}
	if len(accounts) > 0 {
		c.session.Accounts = accounts
	}
	if chainID := params.Get("chainId").Uint(); chainID != 0 {
		c.session.ChainID = chainID
	}
	c.setStateLocked(StateUpdated)
}

// markDisconnected reports whether the session actually changed.
func (c *Client) markDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected && !c.session.Connected {
		return false
	}
	c.session.Connected = false
	c.setStateLocked(StateDisconnected)
	return true
}

// markRelayLost moves to StateDisconnected but keeps Connected, so the wallet's
// approval survives in Save and the session can be restored on a new relay.
func (c *Client) markRelayLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.setStateLocked(StateDisconnected)
}

// setStateLocked must hold c.mu so events leave in the order the session changed.
func (c *Client) setStateLocked(state SessionState) {
	c.state = state
	if c.destroyed.Load() {
		return
	}
	c.dispatcher.publish(c.session.info(state))
}
