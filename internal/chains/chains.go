// Package chains names the evm chains wallets commonly connect on.
package chains

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Blockchain struct {
	ID   uint64
	Name string
}

func (b *Blockchain) IDHex() string {
	return hexutil.EncodeUint64(b.ID)
}

var known = []*Blockchain{
	{ID: 1, Name: "eth"},
	{ID: 3, Name: "ropsten"},
	{ID: 4, Name: "rinkeby"},
	{ID: 5, Name: "goerli"},
	{ID: 42, Name: "kovan"},
	{ID: 137, Name: "polygon"},
	{ID: 80001, Name: "mumbai"},
	{ID: 56, Name: "bsc"},
	{ID: 97, Name: "bsc testnet"},
	{ID: 43114, Name: "avalanche"},
	{ID: 43113, Name: "avalanche testnet"},
	{ID: 250, Name: "fantom"},
	{ID: 25, Name: "cronos"},
}

var byID = func() map[uint64]*Blockchain {
	m := make(map[uint64]*Blockchain, len(known))
	for _, b := range known {
		m[b.ID] = b
	}
	return m
}()

func Lookup(id uint64) (*Blockchain, bool) {
	b, ok := byID[id]
	return b, ok
}

// NameOf falls back to "chain <id>" for chains not in the table.
func NameOf(id uint64) string {
	if b, ok := byID[id]; ok {
		return b.Name
	}
	return "chain " + strconv.FormatUint(id, 10)
}
