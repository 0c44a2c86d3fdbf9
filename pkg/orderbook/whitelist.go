package orderbook

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
)

// WhitelistChecker is a static-call target backed by the asset whitelist.
// The order's static extradata names the asset and the buyer's email:
//
//	tokenAddress (20) | len(tokenID) uint16 BE | tokenID | email
//
// An asset without a whitelist entry is unrestricted; otherwise the email
// must equal the whitelisted one.
type WhitelistChecker struct {
	book    *Book
	address common.Address
}

func NewWhitelistChecker(book *Book, address common.Address) *WhitelistChecker {
	return &WhitelistChecker{book: book, address: address}
}

func (c *WhitelistChecker) Address() common.Address { return c.address }

// WhitelistExtradata encodes the static extradata WhitelistChecker expects.
// The token id length must fit its uint16 prefix.
func WhitelistExtradata(tokenAddress common.Address, tokenID, email string) ([]byte, error) {
	if len(tokenID) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTokenIDTooLong, len(tokenID), math.MaxUint16)
	}
	out := make([]byte, 0, common.AddressLength+2+len(tokenID)+len(email))
	out = append(out, tokenAddress.Bytes()...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(tokenID)))
	out = append(out, tokenID...)
	return append(out, email...), nil
}

func parseExtradata(extradata []byte) (common.Address, string, string, error) {
	if len(extradata) < common.AddressLength+2 {
		return common.Address{}, "", "", fmt.Errorf("whitelist extradata too short: %d bytes", len(extradata))
	}
	token := common.BytesToAddress(extradata[:common.AddressLength])
	rest := extradata[common.AddressLength:]
	n := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if len(rest) < n {
		return common.Address{}, "", "", fmt.Errorf("whitelist extradata token id truncated")
	}
	return token, string(rest[:n]), string(rest[n:]), nil
}

// StaticCheck reports malformed extradata as a rejection; unknown targets
// and storage failures are errors
func (c *WhitelistChecker) StaticCheck(ctx context.Context, target common.Address, _, extradata []byte) (bool, error) {
	if target != c.address {
		return false, fmt.Errorf("no static contract at %s", target.Hex())
	}
	token, tokenID, email, err := parseExtradata(extradata)
	if err != nil {
		c.book.logger.Debugw("static_check_rejected", "reason", err.Error())
		return false, nil
	}
	allowed, restricted, err := c.book.WhitelistEmail(ctx, token.Hex(), tokenID)
	if err != nil {
		return false, err
	}
	if !restricted {
		return true, nil
	}
	return email == allowed, nil
}

var _ exchange.StaticChecker = (*WhitelistChecker)(nil)
