package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Ed25519Address derives an account address from a 32-byte ed25519 public key:
// the last 20 bytes of keccak256(pub). Returns the zero address for bad input.
func Ed25519Address(pub []byte) common.Address {
	if len(pub) != 32 {
		return common.Address{}
	}
	return keccakAddress(pub)
}

// AddressFromUncompressedPub expects a 65-byte uncompressed secp256k1 pubkey (0x04 || X || Y)
func AddressFromUncompressedPub(pub []byte) common.Address {
	if len(pub) != 65 || pub[0] != 0x04 {
		return common.Address{}
	}
	return keccakAddress(pub[1:])
}

func keccakAddress(b []byte) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:]) // last 20 bytes
}
