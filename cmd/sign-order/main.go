package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperwyvern/pkg/crypto"
	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
	"github.com/uhyunpark/hyperwyvern/pkg/transaction"
)

type signFlags struct {
	scheme       string
	key          string
	side         string
	exchange     string
	chainID      int64
	feeRecipient string
	makerFee     int64
	target       string
	calldata     string
	pattern      string
	paymentToken string
	price        string
	expiresIn    time.Duration
	endpoint     string
}

func main() {
	var f signFlags
	cmd := &cobra.Command{
		Use:   "sign-order",
		Short: "Build, sign and verify an exchange order and print it as a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return signOrder(f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.scheme, "scheme", "secp256k1", "signature scheme: secp256k1 or ed25519")
	flags.StringVar(&f.key, "key", "", "hex private key (secp256k1) or seed (ed25519); generated when empty")
	flags.StringVar(&f.side, "side", "sell", "order side: buy or sell")
	flags.StringVar(&f.exchange, "exchange", "0x7be8076f4ea4a4ad08075c2508e481d6c946d12b", "exchange contract address")
	flags.Int64Var(&f.chainID, "chain-id", 1337, "EIP-712 domain chain id")
	flags.StringVar(&f.feeRecipient, "fee-recipient", "", "relayer address; set on maker orders")
	flags.Int64Var(&f.makerFee, "maker-fee", 250, "maker relayer fee in basis points")
	flags.StringVar(&f.target, "target", "0x00000000000000000000000000000000000000c1", "call target")
	flags.StringVar(&f.calldata, "calldata", "0x", "hex call data")
	flags.StringVar(&f.pattern, "pattern", "0x", "hex replacement pattern")
	flags.StringVar(&f.paymentToken, "payment-token", "", "payment token; native asset when empty")
	flags.StringVar(&f.price, "price", "1000000000000000000", "base price in payment-token units")
	flags.DurationVar(&f.expiresIn, "expires-in", 24*time.Hour, "validity window; 0 never expires")
	flags.StringVar(&f.endpoint, "endpoint", "http://localhost:8080/rpc", "JSON-RPC endpoint shown in the submit hint")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSigner(scheme, key string) (crypto.Signer, error) {
	switch scheme {
	case "secp256k1":
		if key == "" {
			s, err := crypto.GenerateKey()
			if err != nil {
				return nil, err
			}
			fmt.Printf("Private Key: %s (KEEP SECRET!)\n", s.PrivateKeyHex())
			return s, nil
		}
		return crypto.FromPrivateKeyHex(key)
	case "ed25519":
		if key == "" {
			return crypto.GenerateEd25519Key()
		}
		return crypto.Ed25519FromSeedHex(key)
	default:
		return nil, fmt.Errorf("unknown scheme %q", scheme)
	}
}

func parseAddressFlag(name, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("--%s: invalid address %q", name, v)
	}
	return common.HexToAddress(v), nil
}

func buildOrder(f signFlags, maker common.Address) (*exchange.Order, error) {
	side := exchange.Sell
	switch f.side {
	case "sell":
	case "buy":
		side = exchange.Buy
	default:
		return nil, fmt.Errorf("--side must be buy or sell, got %q", f.side)
	}

	exchangeAddr, err := parseAddressFlag("exchange", f.exchange)
	if err != nil {
		return nil, err
	}
	feeRecipient, err := parseAddressFlag("fee-recipient", f.feeRecipient)
	if err != nil {
		return nil, err
	}
	target, err := parseAddressFlag("target", f.target)
	if err != nil {
		return nil, err
	}
	paymentToken, err := parseAddressFlag("payment-token", f.paymentToken)
	if err != nil {
		return nil, err
	}

	calldata, err := hexutil.Decode(f.calldata)
	if err != nil {
		return nil, fmt.Errorf("--calldata: %w", err)
	}
	pattern, err := hexutil.Decode(f.pattern)
	if err != nil {
		return nil, fmt.Errorf("--pattern: %w", err)
	}
	price, ok := new(big.Int).SetString(f.price, 10)
	if !ok || price.Sign() < 0 {
		return nil, fmt.Errorf("--price: invalid amount %q", f.price)
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}

	now := uint64(time.Now().Unix())
	var expiration uint64
	if f.expiresIn > 0 {
		expiration = now + uint64(f.expiresIn.Seconds())
	}

	makerFee := big.NewInt(0)
	if feeRecipient != (common.Address{}) {
		makerFee = big.NewInt(f.makerFee)
	}

	return &exchange.Order{
		Exchange:           exchangeAddr,
		Maker:              maker,
		MakerRelayerFee:    makerFee,
		TakerRelayerFee:    big.NewInt(0),
		MakerProtocolFee:   big.NewInt(0),
		TakerProtocolFee:   big.NewInt(0),
		FeeRecipient:       feeRecipient,
		FeeMethod:          exchange.SplitFee,
		Side:               side,
		SaleKind:           exchange.FixedPrice,
		Target:             target,
		HowToCall:          exchange.Call,
		Calldata:           calldata,
		ReplacementPattern: pattern,
		PaymentToken:       paymentToken,
		BasePrice:          price,
		Extra:              big.NewInt(0),
		ListingTime:        now,
		ExpirationTime:     expiration,
		Salt:               salt,
	}, nil
}

func signOrder(f signFlags) error {
	// Step 1: Generate or load key
	signer, err := loadSigner(f.scheme, f.key)
	if err != nil {
		return err
	}
	fmt.Printf("Scheme: %s\n", f.scheme)
	fmt.Printf("Address: %s\n\n", signer.Address().Hex())

	// Step 2: Create order
	order, err := buildOrder(f, signer.Address())
	if err != nil {
		return err
	}
	domain := crypto.DefaultDomain().WithContract(order.Exchange)
	domain.ChainID = big.NewInt(f.chainID)

	fmt.Println("Order Details:")
	fmt.Printf("  Exchange: %s\n", order.Exchange.Hex())
	fmt.Printf("  Side: %s\n", order.Side)
	fmt.Printf("  Sale Kind: %s\n", order.SaleKind)
	fmt.Printf("  Fee Method: %s\n", order.FeeMethod)
	fmt.Printf("  Target: %s\n", order.Target.Hex())
	fmt.Printf("  Price: %s\n", order.BasePrice.String())
	fmt.Printf("  Maker Relayer Fee: %s bps\n", order.MakerRelayerFee.String())
	fmt.Printf("  Expires: %d\n\n", order.ExpirationTime)

	// Step 3: Hash and sign
	hash, err := exchange.HashOrder(order)
	if err != nil {
		return fmt.Errorf("failed to hash order: %w", err)
	}
	signed, err := transaction.SignOrder(signer, domain, order, exchange.RoleMaker)
	if err != nil {
		return err
	}
	fmt.Printf("Order Hash: %s\n", hash.Hex())
	fmt.Printf("Signature: %s\n\n", signed.Auth.Signature)

	// Step 4: Create transaction
	tx := &transaction.Transaction{
		Type: transaction.TxTypeApprove,
		Approve: &transaction.ApprovePayload{
			Order:                     signed.Order,
			OrderbookInclusionDesired: true,
		},
	}
	if err := tx.Approve.Sign(signer, domain); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	// Step 5: Serialize to JSON
	orderJSON, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	fmt.Println("Signed Order (JSON):")
	fmt.Println(string(orderJSON))
	fmt.Println()

	txJSON, err := tx.Serialize()
	if err != nil {
		return err
	}
	fmt.Println("Approve Transaction (JSON):")
	fmt.Println(string(txJSON))
	fmt.Println()

	// Step 6: Verify signature after transport
	fmt.Println("Verifying signature...")
	decoded, auth, err := signed.Decode()
	if err != nil {
		return fmt.Errorf("failed to decode signed order: %w", err)
	}
	digest, err := exchange.HashToSign(domain, decoded)
	if err != nil {
		return err
	}
	if !(crypto.MultiVerifier{}).Verify(decoded.Maker, digest.Bytes(), auth.Signature) {
		fmt.Println("✗ Signature INVALID")
		return fmt.Errorf("signature does not verify")
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", decoded.Maker.Hex())

	// Step 7: Show how to submit to the exchange
	fmt.Println("To validate this order:")
	fmt.Printf("  POST %s\n", f.endpoint)
	fmt.Println(`  {"jsonrpc":"2.0","id":1,"method":"exchange_validateOrder","params":<signed order>}`)
	return nil
}
