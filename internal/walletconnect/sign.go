package walletconnect

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"moff.io/moff-wallet/pkg/errors"
)

const SignatureLength = crypto.SignatureLength

// VerifyPersonalSignature reports whether sig is address's EIP-191 signature of msg.
func VerifyPersonalSignature(address common.Address, msg, sig []byte) bool {
	if len(sig) != SignatureLength {
		return false
	}
	sig = append([]byte{}, sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27 // Transform yellow paper V from 27/28 to 0/1
	}
	recovered, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*recovered) == address
}

// decodeSignature reads a 65 byte r||s||v signature, v normalized to 27/28.
func decodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode signature hex")
	}
	if len(sig) != SignatureLength {
		return nil, errors.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	return sig, nil
}

// transactionSignature accepts either a bare signature or an RLP encoded signed
// transaction, which is what most wallets answer eth_signTransaction with.
func transactionSignature(s string) ([]byte, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode signed transaction hex")
	}
	if len(raw) == SignatureLength {
		return decodeSignature(s)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, errors.Wrap(err, "decode signed transaction")
	}
	v, r, sv := tx.RawSignatureValues()
	if v == nil || r == nil || sv == nil {
		return nil, errors.New("transaction is not signed")
	}
	recID := new(big.Int).Set(v)
	if tx.Type() == types.LegacyTxType {
		if tx.Protected() {
			// v = chain_id*2 + 35 + recovery id
			recID.Sub(recID, new(big.Int).Add(new(big.Int).Mul(tx.ChainId(), big.NewInt(2)), big.NewInt(35)))
		} else {
			recID.Sub(recID, big.NewInt(27))
		}
	}
	if recID.Sign() < 0 || recID.Cmp(big.NewInt(1)) > 0 {
		return nil, errors.Errorf("unexpected signature v %v", v)
	}
	sig := make([]byte, SignatureLength)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:64])
	sig[crypto.RecoveryIDOffset] = byte(recID.Uint64()) + 27
	return sig, nil
}

func decodeHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "decode transaction hash hex")
	}
	if len(b) != common.HashLength {
		return common.Hash{}, errors.Errorf("transaction hash must be %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}
