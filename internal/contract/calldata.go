package contract

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"moff.io/moff-wallet/pkg/errors"
)

const (
	erc20ABIJSON = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`
	erc721ABIJSON = `[
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"approve","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`
	// safeTransferFrom is overloaded, each overload gets its own ABI so both keep their name.
	erc721SafeABIJSON = `[
	{"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`
	erc721SafeDataABIJSON = `[
	{"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]}
]`
	erc1155ABIJSON = `[
	{"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"setApprovalForAll","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`
)

var (
	erc20ABI          = mustParseABI(erc20ABIJSON)
	erc721ABI         = mustParseABI(erc721ABIJSON)
	erc721SafeABI     = mustParseABI(erc721SafeABIJSON)
	erc721SafeDataABI = mustParseABI(erc721SafeDataABIJSON)
	erc1155ABI        = mustParseABI(erc1155ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

func address(field, s string) (common.Address, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "%s %q", field, s)
	}
	if len(b) != common.AddressLength {
		return common.Address{}, errors.Errorf("%s must be %d bytes, got %d", field, common.AddressLength, len(b))
	}
	return common.BytesToAddress(b), nil
}

func uint256(field, s string) (*big.Int, error) {
	v, ok := math.ParseBig256(s)
	if s == "" || !ok || v.Sign() < 0 {
		return nil, errors.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}

// pack resolves the contract address and packs method with args.
// Args are given as thunks so the first invalid field wins.
func pack(contractAddress string, parsed abi.ABI, method string, args ...func() (interface{}, error)) (common.Address, []byte, error) {
	to, err := address("contract_address", contractAddress)
	if err != nil {
		return common.Address{}, nil, err
	}
	values := make([]interface{}, 0, len(args))
	for _, arg := range args {
		v, err := arg()
		if err != nil {
			return common.Address{}, nil, err
		}
		values = append(values, v)
	}
	data, err := parsed.Pack(method, values...)
	if err != nil {
		return common.Address{}, nil, errors.Wrapf(err, "pack %v", method)
	}
	return to, data, nil
}

func addr(field, s string) func() (interface{}, error) {
	return func() (interface{}, error) { return address(field, s) }
}

func num(field, s string) func() (interface{}, error) {
	return func() (interface{}, error) { return uint256(field, s) }
}

func val(v interface{}) func() (interface{}, error) {
	return func() (interface{}, error) { return v, nil }
}

func bytesArg(b []byte) func() (interface{}, error) {
	if b == nil {
		b = []byte{}
	}
	return val(b)
}

func (a Erc20Transfer) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc20ABI, "transfer",
		addr("to_address", a.ToAddress), num("amount", a.Amount))
}

func (a Erc20TransferFrom) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc20ABI, "transferFrom",
		addr("from_address", a.FromAddress), addr("to_address", a.ToAddress), num("amount", a.Amount))
}

func (a Erc20Approval) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc20ABI, "approve",
		addr("approved_address", a.ApprovedAddress), num("amount", a.Amount))
}

func (a Erc721TransferFrom) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc721ABI, "transferFrom",
		addr("from_address", a.FromAddress), addr("to_address", a.ToAddress), num("token_id", a.TokenID))
}

func (a Erc721SafeTransferFrom) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc721SafeABI, "safeTransferFrom",
		addr("from_address", a.FromAddress), addr("to_address", a.ToAddress), num("token_id", a.TokenID))
}

func (a Erc721SafeTransferFromWithAdditionalData) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc721SafeDataABI, "safeTransferFrom",
		addr("from_address", a.FromAddress), addr("to_address", a.ToAddress), num("token_id", a.TokenID),
		bytesArg(a.AdditionalData))
}

func (a Erc721Approval) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc721ABI, "approve",
		addr("approved_address", a.ApprovedAddress), num("token_id", a.TokenID))
}

func (a Erc721SetApprovalForAll) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc721ABI, "setApprovalForAll",
		addr("approved_address", a.ApprovedAddress), val(a.Approved))
}

func (a Erc1155SafeTransferFrom) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc1155ABI, "safeTransferFrom",
		addr("from_address", a.FromAddress), addr("to_address", a.ToAddress), num("token_id", a.TokenID),
		num("amount", a.Amount), bytesArg(a.AdditionalData))
}

func (a Erc1155Approval) CallData() (common.Address, []byte, error) {
	return pack(a.ContractAddress, erc1155ABI, "setApprovalForAll",
		addr("approved_address", a.ApprovedAddress), val(a.Approved))
}
