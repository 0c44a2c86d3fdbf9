package transaction

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
)

// Sender signatures bind a request to the account submitting it. The
// digest is the EIP-712 domain hash of
//
//	keccak256(tag || sender || body)
//
// where body commits to every order hashToSign in the request plus any
// extra request data. Tags keep a signature for one request type from
// being replayed as another.
var (
	senderTagMatch   = []byte("hyperwyvern.match")
	senderTagCancel  = []byte("hyperwyvern.cancel")
	senderTagApprove = []byte("hyperwyvern.approve")
)

func senderDigest(domain crypto.EIP712Domain, tag []byte, sender common.Address, body ...[]byte) (common.Hash, error) {
	parts := append([][]byte{tag, sender.Bytes()}, body...)
	return domain.HashWithDomain(gethcrypto.Keccak256Hash(parts...))
}

func orderDigest(domain crypto.EIP712Domain, p *OrderPayload) ([]byte, error) {
	o, err := p.ToOrder()
	if err != nil {
		return nil, fmt.Errorf("invalid order format: %w", err)
	}
	h, err := exchange.HashToSign(domain, o)
	if err != nil {
		return nil, err
	}
	return h.Bytes(), nil
}

// authenticate checks sig over digest against the claimed sender. Every
// failure is Unauthorized so callers can report it as a rejection.
func authenticate(v crypto.Verifier, sender common.Address, digest common.Hash, sig string) (common.Address, error) {
	if sig == "" {
		return common.Address{}, exchange.NewError(exchange.Unauthorized, "missing sender signature")
	}
	raw, err := decodeSignature(sig)
	if err != nil {
		return common.Address{}, exchange.NewError(exchange.Unauthorized, "sender signature: %v", err)
	}
	if !v.Verify(sender, digest.Bytes(), raw) {
		return common.Address{}, exchange.NewError(exchange.Unauthorized, "sender signature does not match %s", sender.Hex())
	}
	return sender, nil
}

func requireSender(v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, fmt.Errorf("missing sender")
	}
	return parseAddress("sender", v)
}

func signDigest(signer crypto.Signer, digest common.Hash) (string, error) {
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// SigningHash is the digest the match sender signs. It covers both
// orders and the metadata.
func (m *MatchPayload) SigningHash(domain crypto.EIP712Domain) (common.Hash, error) {
	sender, err := requireSender(m.Sender)
	if err != nil {
		return common.Hash{}, err
	}
	buy, err := orderDigest(domain, &m.Buy.Order)
	if err != nil {
		return common.Hash{}, fmt.Errorf("buy: %w", err)
	}
	sell, err := orderDigest(domain, &m.Sell.Order)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sell: %w", err)
	}
	return senderDigest(domain, senderTagMatch, sender, buy, sell, gethcrypto.Keccak256(m.Metadata))
}

// Sign sets the sender to signer and signs the request
func (m *MatchPayload) Sign(signer crypto.Signer, domain crypto.EIP712Domain) error {
	m.Sender = signer.Address().Hex()
	digest, err := m.SigningHash(domain)
	if err != nil {
		return err
	}
	m.SenderSignature, err = signDigest(signer, digest)
	return err
}

// Authenticate returns the sender once its signature verifies
func (m *MatchPayload) Authenticate(domain crypto.EIP712Domain, v crypto.Verifier) (common.Address, error) {
	digest, err := m.SigningHash(domain)
	if err != nil {
		return common.Address{}, err
	}
	return authenticate(v, common.HexToAddress(m.Sender), digest, m.SenderSignature)
}

func (c *CancelPayload) SigningHash(domain crypto.EIP712Domain) (common.Hash, error) {
	sender, err := requireSender(c.Sender)
	if err != nil {
		return common.Hash{}, err
	}
	order, err := orderDigest(domain, &c.Order.Order)
	if err != nil {
		return common.Hash{}, err
	}
	return senderDigest(domain, senderTagCancel, sender, order)
}

func (c *CancelPayload) Sign(signer crypto.Signer, domain crypto.EIP712Domain) error {
	c.Sender = signer.Address().Hex()
	digest, err := c.SigningHash(domain)
	if err != nil {
		return err
	}
	c.SenderSignature, err = signDigest(signer, digest)
	return err
}

func (c *CancelPayload) Authenticate(domain crypto.EIP712Domain, v crypto.Verifier) (common.Address, error) {
	digest, err := c.SigningHash(domain)
	if err != nil {
		return common.Address{}, err
	}
	return authenticate(v, common.HexToAddress(c.Sender), digest, c.SenderSignature)
}

// SigningHash covers the order and the orderbook inclusion flag
func (a *ApprovePayload) SigningHash(domain crypto.EIP712Domain) (common.Hash, error) {
	sender, err := requireSender(a.Sender)
	if err != nil {
		return common.Hash{}, err
	}
	order, err := orderDigest(domain, &a.Order)
	if err != nil {
		return common.Hash{}, err
	}
	inclusion := []byte{0}
	if a.OrderbookInclusionDesired {
		inclusion[0] = 1
	}
	return senderDigest(domain, senderTagApprove, sender, order, inclusion)
}

func (a *ApprovePayload) Sign(signer crypto.Signer, domain crypto.EIP712Domain) error {
	a.Sender = signer.Address().Hex()
	digest, err := a.SigningHash(domain)
	if err != nil {
		return err
	}
	a.SenderSignature, err = signDigest(signer, digest)
	return err
}

func (a *ApprovePayload) Authenticate(domain crypto.EIP712Domain, v crypto.Verifier) (common.Address, error) {
	digest, err := a.SigningHash(domain)
	if err != nil {
		return common.Address{}, err
	}
	return authenticate(v, common.HexToAddress(a.Sender), digest, a.SenderSignature)
}
