package wctest_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/moff-wallet/internal/walletconnect"
	"moff.io/moff-wallet/internal/walletconnect/wctest"
)

const account = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func pairedClient(t *testing.T) (*walletconnect.Client, *wctest.Bridge, *wctest.Wallet) {
	t.Helper()
	bridge := wctest.NewBridge()
	wallet := wctest.NewWallet(bridge, 5, account)
	c, err := walletconnect.New(context.Background(), walletconnect.Options{
		Bridge:         "https://bridge.example",
		Dialer:         bridge,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(c.Destroy)
	uri, err := c.ConnectionString()
	require.NoError(t, err)
	require.NoError(t, wallet.Pair(uri))
	return c, bridge, wallet
}

func TestWalletApproves(t *testing.T) {
	c, bridge, wallet := pairedClient(t)

	res, err := c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress(account)}, res.Addresses)
	assert.EqualValues(t, 5, res.ChainID)
	assert.Equal(t, 1, bridge.Dials())
	assert.Len(t, wallet.Requests("wc_sessionRequest"), 1)
}

func TestWalletRejects(t *testing.T) {
	c, _, wallet := pairedClient(t)
	wallet.Reject()

	res, err := c.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Rejected)
}

func TestWalletSigns(t *testing.T) {
	c, _, _ := pairedClient(t)
	_, err := c.EnsureSession(context.Background())
	require.NoError(t, err)

	sig, err := c.SignPersonal(context.Background(), "hi", common.HexToAddress(account))
	require.NoError(t, err)
	assert.Equal(t, wctest.FixedSignature, sig)

	hash, err := c.SendEip155Transaction(context.Background(), walletconnect.Eip155Tx{To: account},
		common.HexToAddress(account))
	require.NoError(t, err)
	assert.Equal(t, wctest.FixedTxHash, hash)
}

func TestWalletDisconnect(t *testing.T) {
	c, _, wallet := pairedClient(t)
	_, err := c.EnsureSession(context.Background())
	require.NoError(t, err)

	wallet.Disconnect()
	assert.Eventually(t, func() bool {
		return c.State() == walletconnect.StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestDialError(t *testing.T) {
	bridge := wctest.NewBridge()
	bridge.DialErr = assert.AnError
	_, err := walletconnect.New(context.Background(), walletconnect.Options{Dialer: bridge})
	assert.Equal(t, walletconnect.KindRelay, walletconnect.KindOf(err))
}

func TestDropFailsPending(t *testing.T) {
	c, bridge, wallet := pairedClient(t)
	wallet.Handle("wc_sessionRequest", func(wctest.Request) wctest.Answer { return wctest.Answer{Hold: true} })

	go func() {
		assert.Eventually(t, func() bool { return len(wallet.Requests("wc_sessionRequest")) == 1 },
			time.Second, 5*time.Millisecond)
		bridge.Last().Drop(assert.AnError)
	}()
	_, err := c.EnsureSession(context.Background())
	assert.Equal(t, walletconnect.KindRelay, walletconnect.KindOf(err))
}
