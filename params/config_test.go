package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLoadFromEnvOverrides(t *testing.T) {
	recipient := "0x00000000000000000000000000000000000000f1"
	t.Setenv("EXCHANGE_CHAIN_ID", "1")
	t.Setenv("PROTOCOL_FEE_RECIPIENT", recipient)
	t.Setenv("MIN_MAKER_PROTOCOL_FEE", "250")
	t.Setenv("ORDERBOOK_MAX_ORDERS", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("VERBOSE", "true")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.Exchange.ChainID.Int64() != 1 {
		t.Errorf("chain id = %s, want 1", cfg.Exchange.ChainID)
	}
	if cfg.Protocol.ProtocolFeeRecipient != common.HexToAddress(recipient) {
		t.Errorf("fee recipient = %s", cfg.Protocol.ProtocolFeeRecipient.Hex())
	}
	if cfg.Protocol.MinimumMakerProtocolFee.Int64() != 250 {
		t.Errorf("min maker fee = %s, want 250", cfg.Protocol.MinimumMakerProtocolFee)
	}
	if cfg.Orderbook.MaxOrders != 5 {
		t.Errorf("max orders = %d, want 5", cfg.Orderbook.MaxOrders)
	}
	if len(cfg.Node.AllowedOrigins) != 2 || cfg.Node.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.Node.AllowedOrigins)
	}
	if !cfg.Node.Verbose {
		t.Error("verbose not enabled")
	}
}

func TestLoadFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("EXCHANGE_CHAIN_ID", "-4")
	t.Setenv("EXCHANGE_CONTRACT", "not-an-address")
	t.Setenv("MIN_TAKER_PROTOCOL_FEE", "abc")
	t.Setenv("ORDERBOOK_MAX_WHITELIST", "-1")

	def := Default()
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.Exchange.ChainID.Cmp(def.Exchange.ChainID) != 0 {
		t.Errorf("chain id = %s, want default", cfg.Exchange.ChainID)
	}
	if cfg.Exchange.Contract != def.Exchange.Contract {
		t.Errorf("contract = %s, want default", cfg.Exchange.Contract.Hex())
	}
	if cfg.Protocol.MinimumTakerProtocolFee.Sign() != 0 {
		t.Errorf("min taker fee = %s, want 0", cfg.Protocol.MinimumTakerProtocolFee)
	}
	if cfg.Orderbook.MaxWhitelist != def.Orderbook.MaxWhitelist {
		t.Errorf("max whitelist = %d, want default", cfg.Orderbook.MaxWhitelist)
	}
}

func TestLoadFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "API_ADDR=:9090\nWHITELIST_TARGET=0x00000000000000000000000000000000000000c4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	// godotenv never overrides variables already set
	t.Setenv("API_ADDR", "")
	os.Unsetenv("API_ADDR")
	t.Setenv("WHITELIST_TARGET", "")
	os.Unsetenv("WHITELIST_TARGET")

	cfg := LoadFromEnv(path)
	if cfg.Node.APIAddr != ":9090" {
		t.Errorf("api addr = %q, want :9090", cfg.Node.APIAddr)
	}
	if cfg.Orderbook.WhitelistTarget != common.HexToAddress("0x00000000000000000000000000000000000000c4") {
		t.Errorf("whitelist target = %s", cfg.Orderbook.WhitelistTarget.Hex())
	}
}
