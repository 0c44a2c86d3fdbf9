package crypto

import (
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	Secp256k1SignatureLength = 65
	Ed25519SignatureLength   = ed25519.PublicKeySize + ed25519.SignatureSize
)

// Verifier checks that signature over digest was produced by signer.
// Implementations return false on malformed input and never panic.
type Verifier interface {
	Verify(signer common.Address, digest, signature []byte) bool
}

// Secp256k1Verifier accepts 65-byte [R || S || V] signatures, V in {0, 1, 27, 28}
type Secp256k1Verifier struct{}

func (Secp256k1Verifier) Verify(signer common.Address, digest, signature []byte) bool {
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false
	}
	return recovered == signer
}

// Ed25519Verifier accepts pubkey(32) || sig(64) signatures; the signer
// address is the last 20 bytes of keccak256(pubkey)
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(signer common.Address, digest, signature []byte) bool {
	if len(signature) != Ed25519SignatureLength || len(digest) != 32 {
		return false
	}
	pub := ed25519.PublicKey(signature[:ed25519.PublicKeySize])
	if Ed25519Address(pub) != signer {
		return false
	}
	return ed25519.Verify(pub, digest, signature[ed25519.PublicKeySize:])
}

// MultiVerifier dispatches on signature length
type MultiVerifier struct {
	Secp256k1 Secp256k1Verifier
	Ed25519   Ed25519Verifier
}

func (m MultiVerifier) Verify(signer common.Address, digest, signature []byte) bool {
	switch len(signature) {
	case Secp256k1SignatureLength:
		return m.Secp256k1.Verify(signer, digest, signature)
	case Ed25519SignatureLength:
		return m.Ed25519.Verify(signer, digest, signature)
	default:
		return false
	}
}

// VerifySignature verifies a secp256k1 signature against address
func VerifySignature(address common.Address, hash []byte, signature []byte) bool {
	return Secp256k1Verifier{}.Verify(address, hash, signature)
}

// RecoverAddress recovers the signer's address from a digest and a 65-byte signature
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != Secp256k1SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}

	// Ecrecover wants V in {0, 1}; wallets commonly send 27/28
	sig := common.CopyBytes(signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id: %d", signature[64])
	}

	publicKeyBytes, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}
