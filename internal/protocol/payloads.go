package protocol

import (
	"fmt"

	"github.com/quarrylabs/quarry/internal/chain"
)

// Kind tags a frame's payload. The set is closed: both ends reject frames
// whose kind they do not know.
type Kind uint8

const (
	// KindEnvInit is the fire-and-forget handshake sent to a worker before
	// any job traffic.
	KindEnvInit Kind = iota + 1

	// KindLog and KindEvent flow worker-to-pool and carry no call id.
	KindLog
	KindEvent

	// KindError rejects the call named by its call id.
	KindError

	KindCheckTx
	KindCheckTxResult
	KindSignTx
	KindSignTxResult
	KindCheckInput
	KindCheckInputResult
	KindSignInput
	KindSignInputResult
	KindVerifySig
	KindVerifySigResult
	KindSign
	KindSignResult
	KindMine
	KindMineResult
	KindDeriveKey
	KindDeriveKeyResult
)

func (k Kind) String() string {
	switch k {
	case KindEnvInit:
		return "env-init"
	case KindLog:
		return "log"
	case KindEvent:
		return "event"
	case KindError:
		return "error"
	case KindCheckTx:
		return "check-tx"
	case KindCheckTxResult:
		return "check-tx-result"
	case KindSignTx:
		return "sign-tx"
	case KindSignTxResult:
		return "sign-tx-result"
	case KindCheckInput:
		return "check-input"
	case KindCheckInputResult:
		return "check-input-result"
	case KindSignInput:
		return "sign-input"
	case KindSignInputResult:
		return "sign-input-result"
	case KindVerifySig:
		return "verify-sig"
	case KindVerifySigResult:
		return "verify-sig-result"
	case KindSign:
		return "sign"
	case KindSignResult:
		return "sign-result"
	case KindMine:
		return "mine"
	case KindMineResult:
		return "mine-result"
	case KindDeriveKey:
		return "derive-key"
	case KindDeriveKeyResult:
		return "derive-key-result"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Payload is the closed union of frame bodies.
type Payload interface {
	Kind() Kind
}

// EnvInit carries the environment a worker needs before its first job.
type EnvInit struct {
	Network   string `json:"network"`
	SessionID string `json:"session_id"`
	Terminal  bool   `json:"terminal"`
	// Ignore tells the worker to silently skip broadcast features it does
	// not recognize instead of failing the stream.
	Ignore bool `json:"ignore"`
}

func (*EnvInit) Kind() Kind { return KindEnvInit }

// Log is a worker log line forwarded to the supervisor's logger.
type Log struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (*Log) Kind() Kind { return KindLog }

// Event is an out-of-band notification. Pool-to-worker it carries broadcast
// state changes; worker-to-pool it surfaces named events to observers.
type Event struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (*Event) Kind() Kind { return KindEvent }

// ErrorResult carries a job-level failure for the call named by the frame id.
type ErrorResult struct {
	Message string `json:"message"`
}

func (*ErrorResult) Kind() Kind { return KindError }

// CheckTx verifies every input signature of a transaction against the view.
type CheckTx struct {
	Tx    *chain.Transaction `json:"tx"`
	View  *chain.CoinView    `json:"view"`
	Flags chain.VerifyFlags  `json:"flags"`
}

func (*CheckTx) Kind() Kind { return KindCheckTx }

// CheckTxResult is empty: success carries no data, failure arrives as an
// ErrorResult.
type CheckTxResult struct{}

func (*CheckTxResult) Kind() Kind { return KindCheckTxResult }

// SignTx signs every unsigned input for which a ring key matches the coin.
type SignTx struct {
	Tx   *chain.Transaction `json:"tx"`
	View *chain.CoinView    `json:"view"`
	Keys [][]byte           `json:"keys"`
}

func (*SignTx) Kind() Kind { return KindSignTx }

// SignTxResult returns the signed transaction and how many inputs were newly
// signed.
type SignTxResult struct {
	Tx     *chain.Transaction `json:"tx"`
	Signed int                `json:"signed"`
}

func (*SignTxResult) Kind() Kind { return KindSignTxResult }

// CheckInput verifies a single input against the coin it spends.
type CheckInput struct {
	Tx    *chain.Transaction `json:"tx"`
	Index int                `json:"index"`
	Coin  *chain.Coin        `json:"coin"`
	Flags chain.VerifyFlags  `json:"flags"`
}

func (*CheckInput) Kind() Kind { return KindCheckInput }

type CheckInputResult struct{}

func (*CheckInputResult) Kind() Kind { return KindCheckInputResult }

// SignInput signs a single input with the given private key.
type SignInput struct {
	Tx    *chain.Transaction `json:"tx"`
	Index int                `json:"index"`
	Coin  *chain.Coin        `json:"coin"`
	Key   []byte             `json:"key"`
}

func (*SignInput) Kind() Kind { return KindSignInput }

type SignInputResult struct {
	Tx     *chain.Transaction `json:"tx"`
	Signed bool               `json:"signed"`
}

func (*SignInputResult) Kind() Kind { return KindSignInputResult }

// VerifySig checks one ECDSA signature over a 32-byte digest.
type VerifySig struct {
	Digest    []byte `json:"digest"`
	Signature []byte `json:"signature"`
	PubKey    []byte `json:"pub_key"`
}

func (*VerifySig) Kind() Kind { return KindVerifySig }

type VerifySigResult struct {
	Valid bool `json:"valid"`
}

func (*VerifySigResult) Kind() Kind { return KindVerifySigResult }

// Sign produces one ECDSA signature over a 32-byte digest.
type Sign struct {
	Digest []byte `json:"digest"`
	Key    []byte `json:"key"`
}

func (*Sign) Kind() Kind { return KindSign }

type SignResult struct {
	Signature []byte `json:"signature"`
}

func (*SignResult) Kind() Kind { return KindSignResult }

// Mine searches for a header nonce meeting the target, starting from the
// header's current nonce and trying at most Rounds attempts.
type Mine struct {
	Header []byte `json:"header"`
	Target []byte `json:"target"`
	Rounds uint32 `json:"rounds"`
}

func (*Mine) Kind() Kind { return KindMine }

type MineResult struct {
	Found bool   `json:"found"`
	Nonce uint32 `json:"nonce"`
}

func (*MineResult) Kind() Kind { return KindMineResult }

// DeriveKey runs scrypt over a password.
type DeriveKey struct {
	Password []byte `json:"password"`
	Salt     []byte `json:"salt"`
	N        int    `json:"n"`
	R        int    `json:"r"`
	P        int    `json:"p"`
	KeyLen   int    `json:"key_len"`
}

func (*DeriveKey) Kind() Kind { return KindDeriveKey }

type DeriveKeyResult struct {
	Key []byte `json:"key"`
}

func (*DeriveKeyResult) Kind() Kind { return KindDeriveKeyResult }

// newPayload returns a zero payload for the kind, or nil if the kind is not
// part of the protocol. The switch is the single place a new kind must be
// registered for decoding.
func newPayload(k Kind) Payload {
	switch k {
	case KindEnvInit:
		return &EnvInit{}
	case KindLog:
		return &Log{}
	case KindEvent:
		return &Event{}
	case KindError:
		return &ErrorResult{}
	case KindCheckTx:
		return &CheckTx{}
	case KindCheckTxResult:
		return &CheckTxResult{}
	case KindSignTx:
		return &SignTx{}
	case KindSignTxResult:
		return &SignTxResult{}
	case KindCheckInput:
		return &CheckInput{}
	case KindCheckInputResult:
		return &CheckInputResult{}
	case KindSignInput:
		return &SignInput{}
	case KindSignInputResult:
		return &SignInputResult{}
	case KindVerifySig:
		return &VerifySig{}
	case KindVerifySigResult:
		return &VerifySigResult{}
	case KindSign:
		return &Sign{}
	case KindSignResult:
		return &SignResult{}
	case KindMine:
		return &Mine{}
	case KindMineResult:
		return &MineResult{}
	case KindDeriveKey:
		return &DeriveKey{}
	case KindDeriveKeyResult:
		return &DeriveKeyResult{}
	default:
		return nil
	}
}
