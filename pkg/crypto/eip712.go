package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay of a signed order on another chain or exchange instance
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "Wyvern Exchange Contract")
	Version           string         // Protocol version (e.g., "2.3")
	ChainID           *big.Int       // Chain ID (1337 for local, 1 for mainnet)
	VerifyingContract common.Address // Exchange address the order is scoped to
}

// DefaultDomain returns the default EIP-712 domain for a local devnet
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "Wyvern Exchange Contract",
		Version:           "2.3",
		ChainID:           big.NewInt(1337), // Local dev chain
		VerifyingContract: common.Address{},
	}
}

// WithContract returns a copy of the domain bound to a verifying contract
func (d EIP712Domain) WithContract(addr common.Address) EIP712Domain {
	d.VerifyingContract = addr
	return d
}

func (d EIP712Domain) typedData() apitypes.TypedData {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
		},
		PrimaryType: "EIP712Domain",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
	}
}

// Separator computes the EIP-712 domain separator hash
func (d EIP712Domain) Separator() (common.Hash, error) {
	typedData := d.typedData()
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(domainSeparator), nil
}

// TypedDataHash binds a struct hash to a domain:
// keccak256("\x19\x01" || domainSeparator || structHash)
func TypedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// HashWithDomain computes the digest a wallet signs for structHash under d
func (d EIP712Domain) HashWithDomain(structHash common.Hash) (common.Hash, error) {
	sep, err := d.Separator()
	if err != nil {
		return common.Hash{}, err
	}
	return TypedDataHash(sep, structHash), nil
}

// DomainJSON renders the domain the way wallets expect it for eth_signTypedData_v4
func (d EIP712Domain) DomainJSON() (string, error) {
	chainID := "0"
	if d.ChainID != nil {
		chainID = d.ChainID.String()
	}
	jsonBytes, err := json.MarshalIndent(map[string]interface{}{
		"name":              d.Name,
		"version":           d.Version,
		"chainId":           chainID,
		"verifyingContract": d.VerifyingContract.Hex(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
