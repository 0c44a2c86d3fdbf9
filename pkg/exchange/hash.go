package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
)

// HashOrder returns keccak256 of the canonical encoding of o
func HashOrder(o *Order) (common.Hash, error) {
	h := sha3.NewLegacyKeccak256()
	if err := WriteOrder(h, o); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(h.Sum(nil)), nil
}

// HashToSign returns the digest a maker signs for o: the order hash bound
// to the EIP-712 domain whose verifying contract is o.Exchange
func HashToSign(domain crypto.EIP712Domain, o *Order) (common.Hash, error) {
	orderHash, err := HashOrder(o)
	if err != nil {
		return common.Hash{}, err
	}
	digest, err := domain.WithContract(o.Exchange).HashWithDomain(orderHash)
	if err != nil {
		return common.Hash{}, wrapError(Encoding, err, "domain separator")
	}
	return digest, nil
}
