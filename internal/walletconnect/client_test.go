package walletconnect

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/moff-wallet/internal/contract"
	"moff.io/moff-wallet/pkg/errors"
)

func TestEnsureSessionApproved(t *testing.T) {
	h := newHarness(t)
	res := h.connect()

	require.Len(t, res.Addresses, 1)
	assert.Equal(t, common.HexToAddress(testAccount), res.Addresses[0])
	assert.EqualValues(t, 25, res.ChainID)
	assert.False(t, res.Rejected)

	info := h.client.Session()
	assert.Equal(t, StateConnected, info.State)
	assert.True(t, info.Connected)
	assert.Equal(t, "25", info.ChainID)
	assert.Equal(t, []string{testAccount}, info.Accounts)
	assert.Equal(t, "wallet-peer", info.PeerID)
	assert.Contains(t, info.PeerMeta, "Test Wallet")

	reqs := h.wallet.requestsFor(methodSessionRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, h.client.handshakeTopic, reqs[0].Topic)
	assert.True(t, reqs[0].Silent)
	assert.Equal(t, h.client.clientID, reqs[0].Params.Get("0.peerId").String())
	assert.Equal(t, "Test Dapp", reqs[0].Params.Get("0.peerMeta.name").String())
	assert.EqualValues(t, 25, reqs[0].Params.Get("0.chainId").Int())

	h.events.pollAll(h.client.Dispatcher(), 2)
	assert.Equal(t, []SessionState{StateConnecting, StateConnected}, h.events.states())
}

func TestEnsureSessionWhenConnectedDoesNotAskAgain(t *testing.T) {
	h := newHarness(t)
	h.connect()
	published := h.relay.publishedCount()

	res, err := h.client.EnsureSession(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Addresses, 1)
	assert.Equal(t, published, h.relay.publishedCount())
}

func TestEnsureSessionRejected(t *testing.T) {
	h := newHarness(t)
	h.wallet.handle(methodSessionRequest, func(walletRequest) *walletAnswer {
		return &walletAnswer{Err: "Session Rejected"}
	})

	res, err := h.client.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Empty(t, res.Addresses)
	assert.False(t, h.client.Session().Connected)
}

func TestEnsureSessionDeclinedInOtherWords(t *testing.T) {
	for _, msg := range []string{"User declined", "Session Denied", ""} {
		h := newHarness(t)
		h.wallet.handle(methodSessionRequest, func(walletRequest) *walletAnswer {
			return &walletAnswer{Err: msg}
		})

		res, err := h.client.EnsureSession(context.Background())
		require.NoError(t, err, msg)
		assert.True(t, res.Rejected, msg)
		assert.Empty(t, res.Addresses, msg)
		assert.False(t, h.client.Session().Connected, msg)
	}
}

func TestEnsureSessionNotApproved(t *testing.T) {
	h := newHarness(t)
	h.wallet.handle(methodSessionRequest, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: map[string]interface{}{"approved": false}}
	})

	res, err := h.client.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Empty(t, res.Addresses)
}

func TestEnsureSessionBadAccount(t *testing.T) {
	h := newHarness(t)
	h.wallet.approveWith(25, "0x1234")

	_, err := h.client.EnsureSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindEncoding, KindOf(err))
	assert.False(t, h.client.Session().Connected)
}

func TestEnsureSessionTimeout(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.client.EnsureSession(ctx)
	require.Error(t, err)
	assert.Equal(t, KindRelay, KindOf(err))
	assert.Zero(t, h.client.pending.len())
}

func TestEnsureSessionContextCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return h.client.pending.len() == 1 }, 2*time.Second, time.Millisecond)
		cancel()
	}()

	_, err := h.client.EnsureSession(ctx)
	assert.True(t, errors.Is(err, ErrCancelled))
}

func TestRestoreEmptyFails(t *testing.T) {
	dialer := &memDialer{}
	c, err := Restore(context.Background(), "", Options{Dialer: dialer})
	assert.Nil(t, c)
	require.Error(t, err)
	assert.Equal(t, KindSerialization, KindOf(err))
	assert.Zero(t, dialer.dials())
}

func TestRestoreConnectedSession(t *testing.T) {
	h := newHarness(t)
	h.connect()
	saved, err := h.client.Save()
	require.NoError(t, err)
	h.client.Destroy()

	relay := newMemRelay()
	opts := h.options()
	opts.Dialer = &memDialer{next: func() *memRelay { return relay }}
	c, err := Restore(context.Background(), saved, opts)
	require.NoError(t, err)
	defer c.Destroy()

	assert.Equal(t, StateRestored, c.State())
	info := c.Session()
	assert.True(t, info.Connected)
	assert.Equal(t, []string{testAccount}, info.Accounts)
	assert.Equal(t, h.client.clientID, info.ClientID)
	assert.Equal(t, []string{h.client.clientID}, relay.subs)

	res, err := c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress(testAccount)}, res.Addresses)
	assert.Zero(t, relay.publishedCount())
}

func TestRestoreDisconnectedSession(t *testing.T) {
	h := newHarness(t)
	saved, err := h.client.Save()
	require.NoError(t, err)

	opts := h.options()
	opts.Dialer = &memDialer{}
	c, err := Restore(context.Background(), saved, opts)
	require.NoError(t, err)
	defer c.Destroy()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestNewFailsWhenBridgeUnreachable(t *testing.T) {
	opts := Options{Dialer: &memDialer{err: errors.New("connection refused")}}
	c, err := New(context.Background(), opts)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, ErrRelay))
}

func TestConnectionString(t *testing.T) {
	h := newHarness(t)
	uri, err := h.client.ConnectionString()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "wc:"+h.client.handshakeTopic+"@1?"))
	assert.Contains(t, uri, "bridge=https%3A%2F%2Fbridge.example")
	assert.Contains(t, uri, "key="+hexutil.Encode(h.client.key)[2:])

	h.client.Destroy()
	_, err = h.client.ConnectionString()
	assert.True(t, errors.Is(err, ErrInvalidClient))
}

func TestDestroyCancelsPendingSign(t *testing.T) {
	h := newHarness(t)
	h.connect()

	errc := make(chan error, 1)
	go func() {
		_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
		errc <- err
	}()
	waitPending(t, h.client, 1)

	h.client.Destroy()
	select {
	case err := <-errc:
		assert.Equal(t, KindCancelled, KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("SignPersonal still blocked after Destroy")
	}

	_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
	assert.Equal(t, KindInvalidClient, KindOf(err))
	_, err = h.client.EnsureSession(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidClient))
	assert.True(t, h.client.Destroyed())
	h.client.Destroy()
}

func TestDestroyCancelsQueuedCalls(t *testing.T) {
	h := newHarness(t)
	h.connect()

	errc := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
			errc <- err
		}()
	}
	waitPending(t, h.client, 1)
	require.Eventually(t, func() bool { return h.client.gate.Waiting() == 1 }, time.Second, time.Millisecond)

	h.client.Destroy()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			assert.Equal(t, KindCancelled, KindOf(err))
		case <-time.After(time.Second):
			t.Fatal("call still blocked after Destroy")
		}
	}
}

func TestSignRequiresSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
	assert.Equal(t, KindInvalidClient, KindOf(err))
	_, err = h.client.SendEip155Transaction(context.Background(), Eip155Tx{}, common.HexToAddress(testAccount))
	assert.Equal(t, KindInvalidClient, KindOf(err))
}

func TestSignRejectsAddressOutsideSession(t *testing.T) {
	h := newHarness(t)
	h.connect()
	other := common.HexToAddress(testAccount2)

	_, err := h.client.SignPersonal(context.Background(), "hello", other)
	assert.Equal(t, KindInvalidClient, KindOf(err))
	_, err = h.client.SignEip155Transaction(context.Background(), Eip155Tx{To: testAccount}, other)
	assert.Equal(t, KindInvalidClient, KindOf(err))
	_, err = h.client.SendEip155Transaction(context.Background(), Eip155Tx{To: testAccount}, other)
	assert.Equal(t, KindInvalidClient, KindOf(err))

	assert.Empty(t, h.wallet.requestsFor(methodPersonalSign))
	assert.Empty(t, h.wallet.requestsFor(methodSignTransaction))
	assert.Empty(t, h.wallet.requestsFor(methodSendTransaction))
}

func TestSetupCallbackOnSharedDispatcher(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.client.SetupCallback(h.events))

	var owned []SessionInfo
	d := NewDispatcher()
	d.SetListener(ListenerFunc(func(info SessionInfo) { owned = append(owned, info) }))
	opts := h.options()
	opts.Dispatcher = d
	opts.Dialer = &memDialer{}
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Destroy()

	err = c.SetupCallback(h.events)
	assert.Equal(t, KindInvalidClient, KindOf(err))

	d.publish(c.Session())
	assert.Equal(t, 1, d.Poll())
	assert.Len(t, owned, 1)
	assert.Empty(t, h.events.states())
}

func connectWithKey(t *testing.T, h *harness) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	h.wallet.approveWith(25, addr.Hex())
	_, err = h.client.EnsureSession(context.Background())
	require.NoError(t, err)
	return key, addr
}

func TestSignPersonal(t *testing.T) {
	h := newHarness(t)
	key, addr := connectWithKey(t, h)
	h.wallet.handle(methodPersonalSign, func(req walletRequest) *walletAnswer {
		msg, err := hexutil.Decode(req.Params.Get("0").String())
		require.NoError(t, err)
		sig, err := crypto.Sign(accounts.TextHash(msg), key)
		require.NoError(t, err)
		return &walletAnswer{Result: hexutil.Encode(sig)}
	})

	sig, err := h.client.SignPersonal(context.Background(), "login to moff", addr)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])
	assert.True(t, VerifyPersonalSignature(addr, []byte("login to moff"), sig))

	reqs := h.wallet.requestsFor(methodPersonalSign)
	require.Len(t, reqs, 1)
	assert.Equal(t, "wallet-peer", reqs[0].Topic)
	assert.False(t, reqs[0].Silent)
	assert.Equal(t, hexutil.Encode([]byte("login to moff")), reqs[0].Params.Get("0").String())
	assert.Equal(t, strings.ToLower(addr.Hex()), reqs[0].Params.Get("1").String())
}

func TestSignPersonalRejected(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.wallet.handle(methodPersonalSign, func(walletRequest) *walletAnswer {
		return &walletAnswer{Err: "User rejected the request"}
	})

	_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
	assert.True(t, errors.Is(err, ErrSigningRejected))
}

func TestSignPersonalMalformedSignature(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.wallet.handle(methodPersonalSign, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: "0x1234"}
	})

	_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
	assert.Equal(t, KindEncoding, KindOf(err))
}

func TestSignEip155Transaction(t *testing.T) {
	h := newHarness(t)
	key, addr := connectWithKey(t, h)
	signer := types.NewEIP155Signer(big.NewInt(25))
	var signed *types.Transaction
	h.wallet.handle(methodSignTransaction, func(req walletRequest) *walletAnswer {
		p := req.Params.Get("0")
		to := common.HexToAddress(p.Get("to").String())
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    hexutil.MustDecodeUint64(p.Get("nonce").String()),
			GasPrice: hexutil.MustDecodeBig(p.Get("gasPrice").String()),
			Gas:      hexutil.MustDecodeUint64(p.Get("gas").String()),
			To:       &to,
			Value:    hexutil.MustDecodeBig(p.Get("value").String()),
		})
		var err error
		signed, err = types.SignTx(tx, signer, key)
		require.NoError(t, err)
		raw, err := signed.MarshalBinary()
		require.NoError(t, err)
		return &walletAnswer{Result: hexutil.Encode(raw)}
	})

	tx := Eip155Tx{
		To:    testAccount2,
		Value: "1000",
		Common: TxCommon{
			GasLimit: "21000",
			GasPrice: "0x3b9aca00",
			Nonce:    "7",
		},
	}
	sig, err := h.client.SignEip155Transaction(context.Background(), tx, addr)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	reqs := h.wallet.requestsFor(methodSignTransaction)
	require.Len(t, reqs, 1)
	p := reqs[0].Params.Get("0")
	assert.Equal(t, addr.Hex(), p.Get("from").String())
	assert.Equal(t, "0x5208", p.Get("gas").String())
	assert.Equal(t, "0x3b9aca00", p.Get("gasPrice").String())
	assert.Equal(t, "0x3e8", p.Get("value").String())
	assert.Equal(t, "0x7", p.Get("nonce").String())

	recoverable := append([]byte{}, sig...)
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(signer.Hash(signed).Bytes(), recoverable)
	require.NoError(t, err)
	assert.Equal(t, addr, crypto.PubkeyToAddress(*pub))
}

func TestSendEip155Transaction(t *testing.T) {
	h := newHarness(t)
	h.connect()
	hash := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000def")
	h.wallet.handle(methodSendTransaction, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: hash.Hex()}
	})

	got, err := h.client.SendEip155Transaction(context.Background(), Eip155Tx{
		To:     testAccount2,
		Value:  "1",
		Data:   hexutil.Bytes{0xde, 0xad},
		Common: TxCommon{GasLimit: "21000", GasPrice: "1"},
	}, common.HexToAddress(testAccount))
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	p := h.wallet.requestsFor(methodSendTransaction)[0].Params.Get("0")
	assert.Equal(t, "0xdead", p.Get("data").String())
	assert.False(t, p.Get("nonce").Exists())
	assert.Equal(t, "0x19", p.Get("chainId").String())
}

func TestTransactionCarriesRequestedChain(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.wallet.handle(methodSendTransaction, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: common.Hash{1}.Hex()}
	})
	h.wallet.handle(methodSignTransaction, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: hexutil.Encode(make([]byte, SignatureLength))}
	})
	tx := Eip155Tx{To: testAccount2, Value: "1", Common: TxCommon{ChainID: 338, GasLimit: "21000", GasPrice: "1"}}

	_, err := h.client.SendEip155Transaction(context.Background(), tx, common.HexToAddress(testAccount))
	require.NoError(t, err)
	_, err = h.client.SignEip155Transaction(context.Background(), tx, common.HexToAddress(testAccount))
	require.NoError(t, err)

	assert.Equal(t, "0x152", h.wallet.requestsFor(methodSendTransaction)[0].Params.Get("0.chainId").String())
	assert.Equal(t, "0x152", h.wallet.requestsFor(methodSignTransaction)[0].Params.Get("0.chainId").String())
}

func TestSendTransactionRejected(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.wallet.handle(methodSendTransaction, func(walletRequest) *walletAnswer {
		return &walletAnswer{Err: "User rejected the transaction"}
	})

	_, err := h.client.SendEip155Transaction(context.Background(), Eip155Tx{To: testAccount2},
		common.HexToAddress(testAccount))
	assert.Equal(t, KindSigningRejected, KindOf(err))
}

func TestSendTransactionInvalidQuantity(t *testing.T) {
	h := newHarness(t)
	h.connect()
	_, err := h.client.SendEip155Transaction(context.Background(), Eip155Tx{To: testAccount2, Value: "lots"},
		common.HexToAddress(testAccount))
	assert.Equal(t, KindEncoding, KindOf(err))
	assert.Empty(t, h.wallet.requestsFor(methodSendTransaction))
}

type stubNode struct {
	nonce  uint64
	price  *big.Int
	closed bool
}

func (n *stubNode) PendingNonceAt(context.Context, common.Address) (uint64, error) { return n.nonce, nil }
func (n *stubNode) SuggestGasPrice(context.Context) (*big.Int, error)             { return n.price, nil }
func (n *stubNode) Close()                                                        { n.closed = true }

func TestSendTransactionCompletesFromNode(t *testing.T) {
	node := &stubNode{nonce: 42, price: big.NewInt(5_000_000_000)}
	h := newHarness(t)
	h.client.opts.NodeDialer = func(_ context.Context, url string) (NodeReader, error) {
		assert.Equal(t, "https://rpc.example", url)
		return node, nil
	}
	h.connect()
	h.wallet.handle(methodSendTransaction, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: common.Hash{1}.Hex()}
	})

	_, err := h.client.SendEip155Transaction(context.Background(), Eip155Tx{
		To:     testAccount2,
		Common: TxCommon{Web3APIURL: "https://rpc.example", GasLimit: "21000"},
	}, common.HexToAddress(testAccount))
	require.NoError(t, err)
	assert.True(t, node.closed)

	p := h.wallet.requestsFor(methodSendTransaction)[0].Params.Get("0")
	assert.Equal(t, "0x2a", p.Get("nonce").String())
	assert.Equal(t, "0x12a05f200", p.Get("gasPrice").String())
}

func TestSendContractTransaction(t *testing.T) {
	h := newHarness(t)
	h.connect()
	hash := common.HexToHash("0x01")
	h.wallet.handle(methodSendTransaction, func(walletRequest) *walletAnswer {
		return &walletAnswer{Result: hash.Hex()}
	})
	action := contract.Erc20Transfer{
		ContractAddress: "0x1111111111111111111111111111111111111111",
		ToAddress:       testAccount2,
		Amount:          "100",
	}

	got, err := h.client.SendContractTransaction(context.Background(), action,
		TxCommon{GasLimit: "60000", GasPrice: "1"}, common.HexToAddress(testAccount))
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	_, wantData, err := action.CallData()
	require.NoError(t, err)
	p := h.wallet.requestsFor(methodSendTransaction)[0].Params.Get("0")
	assert.Equal(t, "0x1111111111111111111111111111111111111111", p.Get("to").String())
	assert.Equal(t, hexutil.Encode(wantData), p.Get("data").String())
	assert.Equal(t, "0xa9059cbb", p.Get("data").String()[:10])
	assert.Equal(t, "0x0", p.Get("value").String())
}

func TestSendContractTransactionJSONRejectsBadPayload(t *testing.T) {
	h := newHarness(t)
	h.connect()
	_, err := h.client.SendContractTransactionJSON(context.Background(), `{"ContractTransfer":{"Nope":{}}}`,
		TxCommon{}, common.HexToAddress(testAccount))
	assert.Equal(t, KindEncoding, KindOf(err))

	h.client.Destroy()
	_, err = h.client.SendContractTransactionJSON(context.Background(), `not json`,
		TxCommon{}, common.HexToAddress(testAccount))
	assert.Equal(t, KindInvalidClient, KindOf(err))
}

func TestConcurrentCallsRunInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	h.connect()
	release := make(chan struct{})
	h.wallet.handle(methodPersonalSign, func(req walletRequest) *walletAnswer {
		go func() {
			<-release
			h.wallet.respond(req.ID, &walletAnswer{Err: "rejected " + req.Params.Get("0").String()})
		}()
		return nil
	})

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() {
		_, err := h.client.SignPersonal(context.Background(), "first", common.HexToAddress(testAccount))
		first <- err
	}()
	waitPending(t, h.client, 1)
	go func() {
		_, err := h.client.SignPersonal(context.Background(), "second", common.HexToAddress(testAccount))
		second <- err
	}()
	require.Eventually(t, func() bool { return h.client.gate.Waiting() == 1 }, time.Second, time.Millisecond)
	assert.Len(t, h.wallet.requestsFor(methodPersonalSign), 1)

	close(release)
	assert.Equal(t, KindSigningRejected, KindOf(<-first))
	assert.Equal(t, KindSigningRejected, KindOf(<-second))
	reqs := h.wallet.requestsFor(methodPersonalSign)
	require.Len(t, reqs, 2)
	assert.Equal(t, hexutil.Encode([]byte("first")), reqs[0].Params.Get("0").String())
	assert.Equal(t, hexutil.Encode([]byte("second")), reqs[1].Params.Get("0").String())
}

func TestSessionUpdatesDeliveredInOrder(t *testing.T) {
	h := newHarness(t)
	h.connect()
	const updates = 20
	for i := 1; i <= updates; i++ {
		h.wallet.pushSessionUpdate(true, uint64(100+i), testAccount, testAccount2)
	}
	h.wallet.pushSessionUpdate(false, 0)

	h.events.pollAll(h.client.Dispatcher(), 2+updates+1)
	states := h.events.states()
	require.Len(t, states, 2+updates+1)
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateConnected, states[1])
	for i := 1; i <= updates; i++ {
		e := h.events.events[1+i]
		assert.Equal(t, StateUpdated, e.State)
		assert.Equal(t, strconv.Itoa(100+i), e.ChainID)
		assert.Equal(t, []string{testAccount, testAccount2}, e.Accounts)
	}
	last := h.events.events[len(states)-1]
	assert.Equal(t, StateDisconnected, last.State)
	assert.False(t, last.Connected)

	assert.Zero(t, h.client.Dispatcher().Poll())
	assert.Equal(t, StateDisconnected, h.client.State())
}

func TestWalletDisconnectFailsPendingCall(t *testing.T) {
	h := newHarness(t)
	h.connect()
	errc := make(chan error, 1)
	go func() {
		_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
		errc <- err
	}()
	waitPending(t, h.client, 1)

	h.wallet.pushSessionUpdate(false, 0)
	select {
	case err := <-errc:
		assert.Equal(t, KindRelay, KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("pending call survived the wallet disconnecting")
	}
	assert.False(t, h.client.Session().Connected)
}

func TestDisconnectNotifiesWallet(t *testing.T) {
	h := newHarness(t)
	h.connect()

	require.NoError(t, h.client.Disconnect())
	reqs := h.wallet.requestsFor(methodSessionUpdate)
	require.Len(t, reqs, 1)
	assert.Equal(t, "wallet-peer", reqs[0].Topic)
	assert.False(t, reqs[0].Params.Get("0.approved").Bool())
	assert.Equal(t, StateDisconnected, h.client.State())

	h.events.pollAll(h.client.Dispatcher(), 3)
	assert.Equal(t, []SessionState{StateConnecting, StateConnected, StateDisconnected}, h.events.states())

	_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
	assert.Equal(t, KindInvalidClient, KindOf(err))
}

func TestRelayLossFailsCalls(t *testing.T) {
	h := newHarness(t)
	h.connect()
	errc := make(chan error, 1)
	go func() {
		_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
		errc <- err
	}()
	waitPending(t, h.client, 1)

	h.relay.shutdown(errors.New("bridge went away"))
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrRelay))
	case <-time.After(time.Second):
		t.Fatal("pending call survived losing the relay")
	}

	require.Eventually(t, func() bool { return h.client.State() == StateDisconnected }, time.Second, time.Millisecond)
	assert.False(t, h.client.RelayAlive())
	_, err := h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))
	assert.Equal(t, KindRelay, KindOf(err))

	info := h.client.Session()
	assert.Equal(t, StateDisconnected, info.State)
	assert.True(t, info.Connected)
	saved, err := h.client.Save()
	require.NoError(t, err)
	s, err := DeserializeSession(saved)
	require.NoError(t, err)
	assert.True(t, s.Connected)

	h.events.pollAll(h.client.Dispatcher(), 3)
	assert.Equal(t, []SessionState{StateConnecting, StateConnected, StateDisconnected}, h.events.states())
	assert.True(t, h.events.events[2].Connected)
}

func TestEventsSurviveDestroy(t *testing.T) {
	h := newHarness(t)
	d := NewDispatcher()
	opts := h.options()
	opts.Dispatcher = d
	opts.Dialer = &memDialer{}
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	d.publish(c.Session())
	c.Destroy()

	var got []SessionInfo
	d.SetListener(ListenerFunc(func(info SessionInfo) { got = append(got, info) }))
	assert.Equal(t, 1, d.Poll())
	assert.Equal(t, c.clientID, got[0].ClientID)
	assert.False(t, d.Closed())
}

type observed struct {
	method string
	err    error
}

type observerFunc func(method string, err error, elapsed time.Duration)

func (f observerFunc) ObserveRequest(method string, err error, elapsed time.Duration) {
	f(method, err, elapsed)
}

func TestObserverSeesRoundTrips(t *testing.T) {
	h := newHarness(t)
	var seen []observed
	h.client.opts.Observer = observerFunc(func(method string, err error, _ time.Duration) {
		seen = append(seen, observed{method, err})
	})
	h.connect()
	h.wallet.handle(methodPersonalSign, func(walletRequest) *walletAnswer {
		return &walletAnswer{Err: "rejected"}
	})
	_, _ = h.client.SignPersonal(context.Background(), "hello", common.HexToAddress(testAccount))

	require.Len(t, seen, 2)
	assert.Equal(t, methodSessionRequest, seen[0].method)
	assert.NoError(t, seen[0].err)
	assert.Equal(t, methodPersonalSign, seen[1].method)
}

func TestAddressFromBytes(t *testing.T) {
	for _, n := range []int{0, 19, 21, 32} {
		_, err := AddressFromBytes(make([]byte, n))
		assert.Equal(t, KindEncoding, KindOf(err), "length %d", n)
	}
	a, err := AddressFromBytes(common.HexToAddress(testAccount).Bytes())
	require.NoError(t, err)
	assert.Equal(t, testAccount, a.Hex())

	_, err = ParseAddress("0xzz")
	assert.True(t, errors.Is(err, ErrEncoding))
}
