package walletconnect

import (
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/moff-wallet/pkg/errors"
)

// AddressLength is the byte length of every account address.
const AddressLength = common.AddressLength

type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateUpdated
	StateRestored
)

var stateNames = map[SessionState]string{
	StateDisconnected: "Disconnected",
	StateConnecting:   "Connecting",
	StateConnected:    "Connected",
	StateUpdated:      "Updated",
	StateRestored:     "Restored",
}

func (s SessionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "SessionState(" + strconv.Itoa(int(s)) + ")"
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return errors.Errorf("unknown session state %q", text)
}

// ClientMeta describes a dapp or a wallet to its peer.
type ClientMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

func (m *ClientMeta) jsonString() string {
	if m == nil {
		return ""
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// Session is the persisted part of a client. Only the client mutates it.
type Session struct {
	Connected      bool             `json:"connected"`
	Accounts       []common.Address `json:"accounts"`
	ChainID        uint64           `json:"chain_id"`
	Bridge         string           `json:"bridge"`
	Key            hexutil.Bytes    `json:"key"`
	ClientID       string           `json:"client_id"`
	ClientMeta     ClientMeta       `json:"client_meta"`
	PeerID         string           `json:"peer_id"`
	PeerMeta       *ClientMeta      `json:"peer_meta"`
	HandshakeTopic string           `json:"handshake_topic"`
}

// ActiveAccount is the account requests are signed with once a session is established.
func (s *Session) ActiveAccount() (common.Address, bool) {
	if len(s.Accounts) == 0 {
		return common.Address{}, false
	}
	return s.Accounts[0], true
}

func (m ClientMeta) clone() ClientMeta {
	if m.Icons != nil {
		m.Icons = append([]string{}, m.Icons...)
	}
	return m
}

// SessionInfo is the immutable snapshot handed to listeners and callers.
type SessionInfo struct {
	State          SessionState `json:"state"`
	Connected      bool         `json:"connected"`
	Accounts       []string     `json:"accounts"`
	ChainID        string       `json:"chain_id"`
	Bridge         string       `json:"bridge"`
	Key            string       `json:"key"`
	ClientID       string       `json:"client_id"`
	ClientMeta     string       `json:"client_meta"`
	PeerID         string       `json:"peer_id"`
	PeerMeta       string       `json:"peer_meta"`
	HandshakeTopic string       `json:"handshake_topic"`
}

func (s *Session) info(state SessionState) SessionInfo {
	accounts := make([]string, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		accounts = append(accounts, a.Hex())
	}
	return SessionInfo{
		State:          state,
		Connected:      s.Connected,
		Accounts:       accounts,
		ChainID:        strconv.FormatUint(s.ChainID, 10),
		Bridge:         s.Bridge,
		Key:            s.Key.String(),
		ClientID:       s.ClientID,
		ClientMeta:     s.ClientMeta.jsonString(),
		PeerID:         s.PeerID,
		PeerMeta:       s.PeerMeta.jsonString(),
		HandshakeTopic: s.HandshakeTopic,
	}
}

// SessionResult is what EnsureSession hands back.
// A wallet rejection yields no addresses and Rejected set, without an error.
type SessionResult struct {
	Addresses []common.Address
	ChainID   uint64
	Rejected  bool
}

// AddressFromBytes validates consumer supplied address bytes.
func AddressFromBytes(b []byte) (common.Address, error) {
	if len(b) != AddressLength {
		return common.Address{}, newError(KindEncoding, "address",
			"address must be "+strconv.Itoa(AddressLength)+" bytes, got "+strconv.Itoa(len(b)), nil)
	}
	return common.BytesToAddress(b), nil
}

// ParseAddress validates a 0x prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Address{}, newError(KindEncoding, "address", "invalid hex address "+strconv.Quote(s), err)
	}
	return AddressFromBytes(b)
}

