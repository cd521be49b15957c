package walletconnect

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/ethclient"
	"moff.io/moff-wallet/pkg/errors"
)

// TxCommon carries the chain and fee settings shared by every transaction request.
// Quantities are decimal strings; 0x prefixed hex is accepted too.
type TxCommon struct {
	Web3APIURL string `json:"web3api_url"`
	ChainID    uint64 `json:"chain_id"`
	GasLimit   string `json:"gas_limit"`
	GasPrice   string `json:"gas_price"`
	Nonce      string `json:"nonce,omitempty"`
}

// Eip155Tx is a transaction the wallet signs, or signs and broadcasts.
type Eip155Tx struct {
	// To is empty for contract creation.
	To string `json:"to"`
	// Value in wei.
	Value  string        `json:"value"`
	Data   hexutil.Bytes `json:"data"`
	Common TxCommon      `json:"common"`
}

// txParams is the object eth_signTransaction and eth_sendTransaction take.
type txParams struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	ChainID  string `json:"chainId,omitempty"`
}

func parseQuantity(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, errors.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}

func encodeQuantity(v *big.Int) string {
	if v == nil {
		return ""
	}
	return hexutil.EncodeBig(v)
}

func (tx *Eip155Tx) params(from common.Address) (*txParams, error) {
	p := &txParams{From: from.Hex()}
	if tx.To != "" {
		to, err := ParseAddress(tx.To)
		if err != nil {
			return nil, err
		}
		p.To = to.Hex()
	}
	fields := []struct {
		name string
		raw  string
		dst  *string
	}{
		{"gas_limit", tx.Common.GasLimit, &p.Gas},
		{"gas_price", tx.Common.GasPrice, &p.GasPrice},
		{"value", tx.Value, &p.Value},
		{"nonce", tx.Common.Nonce, &p.Nonce},
	}
	for _, f := range fields {
		v, err := parseQuantity(f.name, f.raw)
		if err != nil {
			return nil, newError(KindEncoding, "transaction", "", err)
		}
		*f.dst = encodeQuantity(v)
	}
	if len(tx.Data) > 0 {
		p.Data = hexutil.Encode(tx.Data)
	}
	if tx.Common.ChainID != 0 {
		p.ChainID = hexutil.EncodeUint64(tx.Common.ChainID)
	}
	return p, nil
}

// NodeReader is the part of an Ethereum node used to complete a transaction.
type NodeReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Close()
}

// NodeDialer opens a NodeReader for a web3 api url.
type NodeDialer func(ctx context.Context, url string) (NodeReader, error)

// DialNode connects to a JSON-RPC node with ethclient.
func DialNode(ctx context.Context, url string) (NodeReader, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial web3 api %v", url)
	}
	return c, nil
}

// complete fills a missing nonce or gas price from the node at Web3APIURL.
// Transactions without a Web3APIURL go to the wallet as they are.
func (tx *Eip155Tx) complete(ctx context.Context, dial NodeDialer, from common.Address) error {
	if tx.Common.Web3APIURL == "" || (tx.Common.Nonce != "" && tx.Common.GasPrice != "") {
		return nil
	}
	node, err := dial(ctx, tx.Common.Web3APIURL)
	if err != nil {
		return err
	}
	defer node.Close()
	if tx.Common.Nonce == "" {
		nonce, err := node.PendingNonceAt(ctx, from)
		if err != nil {
			return errors.Wrap(err, "fetch pending nonce")
		}
		tx.Common.Nonce = new(big.Int).SetUint64(nonce).String()
	}
	if tx.Common.GasPrice == "" {
		price, err := node.SuggestGasPrice(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch gas price")
		}
		tx.Common.GasPrice = price.String()
	}
	return nil
}

// ethclient.Client satisfies NodeReader.
var _ NodeReader = (*ethclient.Client)(nil)
