// Package jobs implements the CPU-bound job kinds the worker pool offloads:
// transaction checking and signing, raw ECDSA operations, block-header
// mining, and password key derivation. The pool treats these as opaque
// operations; the same entry points back the worker binary and the pool's
// synchronous fallback path.
package jobs

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/scrypt"

	"github.com/quarrylabs/quarry/internal/chain"
	"github.com/quarrylabs/quarry/internal/protocol"
)

const privKeyLen = 32

var (
	// ErrUnknownJob is returned when Execute receives a payload that is not
	// a request kind.
	ErrUnknownJob = errors.New("jobs: not a job request")

	// ErrMissingCoin means an input spends an outpoint the view cannot
	// resolve.
	ErrMissingCoin = errors.New("jobs: input spends unknown coin")
)

// parsePrivKey validates raw private key material. The scalar must be in
// [1, N-1]: signing with a zero scalar never terminates, so zero and
// overflowing values are rejected rather than silently reduced.
func parsePrivKey(key []byte) (*secp256k1.PrivateKey, error) {
	if len(key) != privKeyLen {
		return nil, fmt.Errorf("jobs: bad private key length %d", len(key))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(key); overflow || scalar.IsZero() {
		return nil, errors.New("jobs: private key out of range")
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}

// Execute runs one job request and returns its result payload. The switch is
// exhaustive over the request kinds; anything else is a caller bug.
func Execute(req protocol.Payload) (protocol.Payload, error) {
	switch r := req.(type) {
	case *protocol.CheckTx:
		if err := CheckTransaction(r.Tx, r.View, r.Flags); err != nil {
			return nil, err
		}
		return &protocol.CheckTxResult{}, nil
	case *protocol.SignTx:
		signed, err := SignTransaction(r.Tx, r.View, r.Keys)
		if err != nil {
			return nil, err
		}
		return &protocol.SignTxResult{Tx: r.Tx, Signed: signed}, nil
	case *protocol.CheckInput:
		if err := CheckInput(r.Tx, r.Index, r.Coin, r.Flags); err != nil {
			return nil, err
		}
		return &protocol.CheckInputResult{}, nil
	case *protocol.SignInput:
		signed, err := SignInput(r.Tx, r.Index, r.Coin, r.Key)
		if err != nil {
			return nil, err
		}
		return &protocol.SignInputResult{Tx: r.Tx, Signed: signed}, nil
	case *protocol.VerifySig:
		return &protocol.VerifySigResult{Valid: VerifySignature(r.Digest, r.Signature, r.PubKey)}, nil
	case *protocol.Sign:
		sig, err := Sign(r.Digest, r.Key)
		if err != nil {
			return nil, err
		}
		return &protocol.SignResult{Signature: sig}, nil
	case *protocol.Mine:
		nonce, found, err := MineHeader(r.Header, r.Target, r.Rounds)
		if err != nil {
			return nil, err
		}
		return &protocol.MineResult{Found: found, Nonce: nonce}, nil
	case *protocol.DeriveKey:
		key, err := DeriveKey(r.Password, r.Salt, r.N, r.R, r.P, r.KeyLen)
		if err != nil {
			return nil, err
		}
		return &protocol.DeriveKeyResult{Key: key}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, req.Kind())
	}
}

// CheckTransaction verifies the signature of every input against the coins
// it spends.
func CheckTransaction(tx *chain.Transaction, view *chain.CoinView, flags chain.VerifyFlags) error {
	if tx == nil {
		return errors.New("jobs: nil transaction")
	}
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		coin := view.Coin(in.PrevTxID, in.PrevIndex)
		if coin == nil {
			return fmt.Errorf("%w: input %d", ErrMissingCoin, i)
		}
		if err := CheckInput(tx, i, coin, flags); err != nil {
			return err
		}
	}
	return nil
}

// CheckInput verifies a single input's signature against the coin it spends.
func CheckInput(tx *chain.Transaction, index int, coin *chain.Coin, flags chain.VerifyFlags) error {
	if tx == nil {
		return errors.New("jobs: nil transaction")
	}
	if index < 0 || index >= len(tx.Inputs) {
		return fmt.Errorf("jobs: input index %d out of range", index)
	}
	if coin == nil {
		return fmt.Errorf("%w: input %d", ErrMissingCoin, index)
	}
	in := &tx.Inputs[index]

	if len(in.Signature) == 0 {
		return fmt.Errorf("jobs: input %d is unsigned", index)
	}
	if !bytes.Equal(in.PubKey, coin.PubKey) {
		return fmt.Errorf("jobs: input %d pubkey does not match coin", index)
	}
	if flags&chain.FlagRequireCompressed != 0 && len(in.PubKey) != secp256k1.PubKeyBytesLenCompressed {
		return fmt.Errorf("jobs: input %d pubkey is not compressed", index)
	}

	pub, err := secp256k1.ParsePubKey(in.PubKey)
	if err != nil {
		return fmt.Errorf("jobs: input %d pubkey: %w", index, err)
	}
	sig, err := secpecdsa.ParseDERSignature(in.Signature)
	if err != nil {
		return fmt.Errorf("jobs: input %d signature: %w", index, err)
	}
	if flags&chain.FlagRequireLowS != 0 {
		s := sig.S()
		if s.IsOverHalfOrder() {
			return fmt.Errorf("jobs: input %d signature has high S value", index)
		}
	}

	digest, err := tx.SighashDigest(index)
	if err != nil {
		return err
	}
	if !sig.Verify(digest, pub) {
		return fmt.Errorf("jobs: input %d signature verification failed", index)
	}
	return nil
}

// SignTransaction signs every unsigned input whose coin is controlled by one
// of the ring keys. It mutates tx in place and returns the number of inputs
// newly signed.
func SignTransaction(tx *chain.Transaction, view *chain.CoinView, keys [][]byte) (int, error) {
	if tx == nil {
		return 0, errors.New("jobs: nil transaction")
	}
	signed := 0
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if len(in.Signature) != 0 {
			continue
		}
		coin := view.Coin(in.PrevTxID, in.PrevIndex)
		if coin == nil {
			return signed, fmt.Errorf("%w: input %d", ErrMissingCoin, i)
		}
		for _, key := range keys {
			ok, err := SignInput(tx, i, coin, key)
			if err != nil {
				return signed, err
			}
			if ok {
				signed++
				break
			}
		}
	}
	return signed, nil
}

// SignInput signs one input if the key controls the spent coin. Returns
// false (without error) when the key does not match.
func SignInput(tx *chain.Transaction, index int, coin *chain.Coin, key []byte) (bool, error) {
	if tx == nil {
		return false, errors.New("jobs: nil transaction")
	}
	if index < 0 || index >= len(tx.Inputs) {
		return false, fmt.Errorf("jobs: input index %d out of range", index)
	}
	if coin == nil {
		return false, fmt.Errorf("%w: input %d", ErrMissingCoin, index)
	}
	priv, err := parsePrivKey(key)
	if err != nil {
		return false, err
	}

	pub := priv.PubKey().SerializeCompressed()
	if !bytes.Equal(pub, coin.PubKey) {
		return false, nil
	}

	digest, err := tx.SighashDigest(index)
	if err != nil {
		return false, err
	}
	sig := secpecdsa.Sign(priv, digest)

	in := &tx.Inputs[index]
	in.Signature = sig.Serialize()
	in.PubKey = pub
	return true, nil
}

// VerifySignature checks a DER signature over a 32-byte digest. Malformed
// keys or signatures verify as false rather than erroring; the caller asked
// a yes/no question.
func VerifySignature(digest, signature, pubKey []byte) bool {
	if len(digest) != chain.HashSize {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	sig, err := secpecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// Sign produces a DER signature over a 32-byte digest.
func Sign(digest, key []byte) ([]byte, error) {
	if len(digest) != chain.HashSize {
		return nil, fmt.Errorf("jobs: bad digest length %d", len(digest))
	}
	priv, err := parsePrivKey(key)
	if err != nil {
		return nil, err
	}
	return secpecdsa.Sign(priv, digest).Serialize(), nil
}

// MineHeader scans nonces starting at the header's current nonce, trying at
// most rounds attempts. It works on its own copy of the header; the caller's
// buffer is untouched.
func MineHeader(header, target []byte, rounds uint32) (uint32, bool, error) {
	if err := chain.CheckHeaderLen(header); err != nil {
		return 0, false, err
	}
	if len(target) != chain.HashSize {
		return 0, false, fmt.Errorf("jobs: bad target length %d", len(target))
	}

	buf := make([]byte, len(header))
	copy(buf, header)
	start := chain.HeaderNonce(buf)

	for i := uint32(0); i < rounds; i++ {
		nonce := start + i
		chain.PutHeaderNonce(buf, nonce)
		if chain.CheckProof(buf, target) {
			return nonce, true, nil
		}
	}
	return 0, false, nil
}

// DeriveKey runs scrypt with the given parameters.
func DeriveKey(password, salt []byte, n, r, p, keyLen int) ([]byte, error) {
	if keyLen <= 0 {
		return nil, fmt.Errorf("jobs: bad derived key length %d", keyLen)
	}
	key, err := scrypt.Key(password, salt, n, r, p, keyLen)
	if err != nil {
		return nil, fmt.Errorf("jobs: scrypt: %w", err)
	}
	return key, nil
}
