package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
)

// SignOrder signs o's hashToSign under domain and wraps it for transport
func SignOrder(signer crypto.Signer, domain crypto.EIP712Domain, o *exchange.Order, role exchange.Role) (*SignedOrder, error) {
	hash, err := exchange.HashToSign(domain, o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	sig, err := signer.Sign(hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return &SignedOrder{
		Order: *FromOrder(o),
		Auth: AuthorizationPayload{
			Signature: "0x" + hex.EncodeToString(sig),
			Role:      role.String(),
		},
	}, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}

	switch len(sigBytes) {
	case crypto.Secp256k1SignatureLength, crypto.Ed25519SignatureLength:
		return sigBytes, nil
	default:
		return nil, fmt.Errorf("signature must be %d or %d bytes, got %d",
			crypto.Secp256k1SignatureLength, crypto.Ed25519SignatureLength, len(sigBytes))
	}
}
