// Package chain holds the value objects worker jobs operate on: transactions,
// the coin view they spend from, and block headers. Everything here is plain
// data that is copied across the process boundary; nothing in this package
// touches a worker or a lock.
package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// VerifyFlags select optional strictness checks applied when verifying
// transaction input signatures.
type VerifyFlags uint32

const (
	// FlagRequireCompressed rejects inputs whose public key is not in
	// 33-byte compressed form.
	FlagRequireCompressed VerifyFlags = 1 << iota

	// FlagRequireLowS rejects signatures with a high S value.
	FlagRequireLowS
)

// StandardVerifyFlags are the flags applied to relayed transactions.
const StandardVerifyFlags = FlagRequireCompressed | FlagRequireLowS

// Input spends one previous output. Signature and PubKey are empty until the
// input has been signed.
type Input struct {
	PrevTxID  []byte `json:"prev_txid"`
	PrevIndex uint32 `json:"prev_index"`
	Sequence  uint32 `json:"sequence"`
	PubKey    []byte `json:"pub_key,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

// Output locks value to a public key (pay-to-pubkey).
type Output struct {
	Value  int64  `json:"value"`
	PubKey []byte `json:"pub_key"`
}

// Transaction is the minimal pay-to-pubkey transaction shape the workers
// check and sign.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint32   `json:"lock_time"`
}

// Coin is one unspent output as seen by the verifier.
type Coin struct {
	Value  int64  `json:"value"`
	PubKey []byte `json:"pub_key"`
}

// CoinView maps outpoints to the coins a transaction spends. Keys are
// produced by OutpointKey so the view survives a JSON round trip.
type CoinView struct {
	Coins map[string]*Coin `json:"coins"`
}

// NewCoinView returns an empty view.
func NewCoinView() *CoinView {
	return &CoinView{Coins: make(map[string]*Coin)}
}

// OutpointKey renders an outpoint as the map key used by CoinView.
func OutpointKey(txid []byte, index uint32) string {
	return fmt.Sprintf("%x:%d", txid, index)
}

// AddCoin records a spendable coin for the given outpoint.
func (v *CoinView) AddCoin(txid []byte, index uint32, coin *Coin) {
	if v.Coins == nil {
		v.Coins = make(map[string]*Coin)
	}
	v.Coins[OutpointKey(txid, index)] = coin
}

// Coin returns the coin spent by the given outpoint, or nil.
func (v *CoinView) Coin(txid []byte, index uint32) *Coin {
	if v == nil || v.Coins == nil {
		return nil
	}
	return v.Coins[OutpointKey(txid, index)]
}

// SighashDigest computes the 32-byte digest an input at the given index
// commits to. Signatures and pubkeys are excluded from the digest so signing
// an input does not invalidate digests of the others.
func (tx *Transaction) SighashDigest(index int) ([]byte, error) {
	if index < 0 || index >= len(tx.Inputs) {
		return nil, fmt.Errorf("sighash: input index %d out of range (%d inputs)", index, len(tx.Inputs))
	}

	h := blake3.New()
	var scratch [8]byte

	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		_, _ = h.Write(scratch[:4])
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		_, _ = h.Write(scratch[:])
	}

	putU32(tx.Version)
	putU32(uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		_, _ = h.Write(in.PrevTxID)
		putU32(in.PrevIndex)
		putU32(in.Sequence)
	}
	putU32(uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		putU64(uint64(out.Value))
		_, _ = h.Write(out.PubKey)
	}
	putU32(tx.LockTime)
	putU32(uint32(index))

	return h.Sum(nil), nil
}
