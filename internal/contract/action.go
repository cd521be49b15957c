// Package contract describes ERC20, ERC721 and ERC1155 calls as actions, encodes them into the
// JSON envelope the signing backend consumes, and builds their ABI call data.
package contract

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tidwall/gjson"
	"moff.io/moff-wallet/pkg/errors"
)

const (
	EnvelopeTransfer = "ContractTransfer"
	EnvelopeApproval = "ContractApproval"
)

// Action is one contract call intent.
type Action interface {
	// Envelope is EnvelopeTransfer or EnvelopeApproval.
	Envelope() string
	// Variant is the key under the envelope, e.g. "Erc20Transfer".
	Variant() string
	// CallData returns the contract to call and the ABI encoded input.
	CallData() (common.Address, []byte, error)
}

// Field order below is the wire order.

type Erc20Transfer struct {
	ContractAddress string `json:"contract_address"`
	ToAddress       string `json:"to_address"`
	Amount          string `json:"amount"`
}

type Erc20TransferFrom struct {
	ContractAddress string `json:"contract_address"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Amount          string `json:"amount"`
}

type Erc20Approval struct {
	ContractAddress string `json:"contract_address"`
	ApprovedAddress string `json:"approved_address"`
	Amount          string `json:"amount"`
}

type Erc721TransferFrom struct {
	ContractAddress string `json:"contract_address"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	TokenID         string `json:"token_id"`
}

type Erc721SafeTransferFrom struct {
	ContractAddress string `json:"contract_address"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	TokenID         string `json:"token_id"`
}

type Erc721SafeTransferFromWithAdditionalData struct {
	ContractAddress string        `json:"contract_address"`
	FromAddress     string        `json:"from_address"`
	ToAddress       string        `json:"to_address"`
	TokenID         string        `json:"token_id"`
	AdditionalData  hexutil.Bytes `json:"additional_data"`
}

type Erc721Approval struct {
	ContractAddress string `json:"contract_address"`
	ApprovedAddress string `json:"approved_address"`
	TokenID         string `json:"token_id"`
}

type Erc721SetApprovalForAll struct {
	ContractAddress string `json:"contract_address"`
	ApprovedAddress string `json:"approved_address"`
	Approved        bool   `json:"approved"`
}

type Erc1155SafeTransferFrom struct {
	ContractAddress string        `json:"contract_address"`
	FromAddress     string        `json:"from_address"`
	ToAddress       string        `json:"to_address"`
	TokenID         string        `json:"token_id"`
	Amount          string        `json:"amount"`
	AdditionalData  hexutil.Bytes `json:"additional_data"`
}

type Erc1155Approval struct {
	ContractAddress string `json:"contract_address"`
	ApprovedAddress string `json:"approved_address"`
	Approved        bool   `json:"approved"`
}

func (Erc20Transfer) Envelope() string                            { return EnvelopeTransfer }
func (Erc20TransferFrom) Envelope() string                        { return EnvelopeTransfer }
func (Erc721TransferFrom) Envelope() string                       { return EnvelopeTransfer }
func (Erc721SafeTransferFrom) Envelope() string                   { return EnvelopeTransfer }
func (Erc721SafeTransferFromWithAdditionalData) Envelope() string { return EnvelopeTransfer }
func (Erc1155SafeTransferFrom) Envelope() string                  { return EnvelopeTransfer }
func (Erc20Approval) Envelope() string                            { return EnvelopeApproval }
func (Erc721Approval) Envelope() string                           { return EnvelopeApproval }
func (Erc721SetApprovalForAll) Envelope() string                  { return EnvelopeApproval }
func (Erc1155Approval) Envelope() string                          { return EnvelopeApproval }

func (Erc20Transfer) Variant() string          { return "Erc20Transfer" }
func (Erc20TransferFrom) Variant() string      { return "Erc20TransferFrom" }
func (Erc721TransferFrom) Variant() string     { return "Erc721TransferFrom" }
func (Erc721SafeTransferFrom) Variant() string { return "Erc721SafeTransferFrom" }
func (Erc721SafeTransferFromWithAdditionalData) Variant() string {
	return "Erc721SafeTransferFromWithAdditionalData"
}
func (Erc1155SafeTransferFrom) Variant() string { return "Erc1155SafeTransferFrom" }
func (Erc20Approval) Variant() string           { return "Erc20" }
func (Erc721Approval) Variant() string          { return "Erc721Approve" }
func (Erc721SetApprovalForAll) Variant() string { return "Erc721SetApprovalForAll" }
func (Erc1155Approval) Variant() string         { return "Erc1155" }

// variants maps envelope and variant keys back to a fresh action value.
var variants = map[string]map[string]func() Action{
	EnvelopeTransfer: {
		"Erc20Transfer":          func() Action { return &Erc20Transfer{} },
		"Erc20TransferFrom":      func() Action { return &Erc20TransferFrom{} },
		"Erc721TransferFrom":     func() Action { return &Erc721TransferFrom{} },
		"Erc721SafeTransferFrom": func() Action { return &Erc721SafeTransferFrom{} },
		"Erc721SafeTransferFromWithAdditionalData": func() Action {
			return &Erc721SafeTransferFromWithAdditionalData{}
		},
		"Erc1155SafeTransferFrom": func() Action { return &Erc1155SafeTransferFrom{} },
	},
	EnvelopeApproval: {
		"Erc20":                   func() Action { return &Erc20Approval{} },
		"Erc721Approve":           func() Action { return &Erc721Approval{} },
		"Erc721SetApprovalForAll": func() Action { return &Erc721SetApprovalForAll{} },
		"Erc1155":                 func() Action { return &Erc1155Approval{} },
	},
}

// Encode renders a as {"<envelope>":{"<variant>":{fields}}}.
// The output only depends on a, byte for byte.
func Encode(a Action) (string, error) {
	if a == nil {
		return "", errors.New("nil contract action")
	}
	fields, err := json.Marshal(a)
	if err != nil {
		return "", errors.Wrapf(err, "marshal %v", a.Variant())
	}
	envelope, _ := json.Marshal(a.Envelope())
	variant, _ := json.Marshal(a.Variant())
	var sb strings.Builder
	sb.Grow(len(fields) + len(envelope) + len(variant) + 6)
	sb.WriteString("{")
	sb.Write(envelope)
	sb.WriteString(":{")
	sb.Write(variant)
	sb.WriteString(":")
	sb.Write(fields)
	sb.WriteString("}}")
	return sb.String(), nil
}

// Decode parses an envelope produced by Encode.
func Decode(payload string) (Action, error) {
	if !gjson.Valid(payload) {
		return nil, errors.New("malformed contract action json")
	}
	envelope, inner, err := singleKey(gjson.Parse(payload))
	if err != nil {
		return nil, errors.Wrap(err, "contract action envelope")
	}
	byVariant, ok := variants[envelope]
	if !ok {
		return nil, errors.Errorf("unknown contract action envelope %q", envelope)
	}
	variant, fields, err := singleKey(inner)
	if err != nil {
		return nil, errors.Wrapf(err, "%v variant", envelope)
	}
	newAction, ok := byVariant[variant]
	if !ok {
		return nil, errors.Errorf("unknown %v variant %q", envelope, variant)
	}
	if !fields.IsObject() {
		return nil, errors.Errorf("%v fields must be an object", variant)
	}
	a := newAction()
	if err := json.Unmarshal([]byte(fields.Raw), a); err != nil {
		return nil, errors.Wrapf(err, "decode %v", variant)
	}
	return deref(a), nil
}

func singleKey(obj gjson.Result) (string, gjson.Result, error) {
	if !obj.IsObject() {
		return "", gjson.Result{}, errors.New("expected a json object")
	}
	var (
		key   string
		value gjson.Result
		n     int
	)
	obj.ForEach(func(k, v gjson.Result) bool {
		key, value = k.String(), v
		n++
		return true
	})
	if n != 1 {
		return "", gjson.Result{}, errors.Errorf("expected exactly one key, got %d", n)
	}
	return key, value, nil
}

// deref returns decoded actions as values, the same shape callers construct.
func deref(a Action) Action {
	switch v := a.(type) {
	case *Erc20Transfer:
		return *v
	case *Erc20TransferFrom:
		return *v
	case *Erc20Approval:
		return *v
	case *Erc721TransferFrom:
		return *v
	case *Erc721SafeTransferFrom:
		return *v
	case *Erc721SafeTransferFromWithAdditionalData:
		return *v
	case *Erc721Approval:
		return *v
	case *Erc721SetApprovalForAll:
		return *v
	case *Erc1155SafeTransferFrom:
		return *v
	case *Erc1155Approval:
		return *v
	}
	return a
}
