package params

import (
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Exchange struct {
	DomainName    string
	DomainVersion string
	ChainID       *big.Int
	// Contract is the exchange instance address; orders for any other
	// exchange are rejected
	Contract common.Address
}

type Protocol struct {
	Version              uint64
	ProtocolFeeRecipient common.Address
	// Minimum fees in basis points
	MinimumMakerProtocolFee *big.Int
	MinimumTakerProtocolFee *big.Int
	ExchangeToken           common.Address
}

type Orderbook struct {
	MaxOrders    uint64
	MaxWhitelist uint64
	// WhitelistTarget is the static target address that asset whitelist
	// checks are served on. Zero disables the checker.
	WhitelistTarget common.Address
}

type Node struct {
	DataDir        string
	APIAddr        string
	AllowedOrigins []string
	LogFile        string
	JournalPath    string
	Verbose        bool
}

type Config struct {
	Exchange  Exchange
	Protocol  Protocol
	Orderbook Orderbook
	Node      Node
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			DomainName:    "Wyvern Exchange Contract",
			DomainVersion: "2.3",
			ChainID:       big.NewInt(1337), // local dev chain
			Contract:      common.HexToAddress("0x7be8076f4ea4a4ad08075c2508e481d6c946d12b"),
		},
		Protocol: Protocol{
			Version:                 1,
			MinimumMakerProtocolFee: big.NewInt(0),
			MinimumTakerProtocolFee: big.NewInt(0),
		},
		Orderbook: Orderbook{
			MaxOrders:    10_000,
			MaxWhitelist: 10_000,
		},
		Node: Node{
			DataDir:        "data/db",
			APIAddr:        ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			LogFile:        "data/node.log",
			JournalPath:    "data/journal.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Exchange domain
	cfg.Exchange.DomainName = getEnv("EXCHANGE_DOMAIN_NAME", cfg.Exchange.DomainName)
	cfg.Exchange.DomainVersion = getEnv("EXCHANGE_DOMAIN_VERSION", cfg.Exchange.DomainVersion)
	if id := os.Getenv("EXCHANGE_CHAIN_ID"); id != "" {
		if n, ok := new(big.Int).SetString(id, 10); ok && n.Sign() > 0 {
			cfg.Exchange.ChainID = n
		}
	}
	cfg.Exchange.Contract = getEnvAddress("EXCHANGE_CONTRACT", cfg.Exchange.Contract)

	// Protocol fees
	if v := os.Getenv("PROTOCOL_VERSION"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Protocol.Version = n
		}
	}
	cfg.Protocol.ProtocolFeeRecipient = getEnvAddress("PROTOCOL_FEE_RECIPIENT", cfg.Protocol.ProtocolFeeRecipient)
	cfg.Protocol.MinimumMakerProtocolFee = getEnvBig("MIN_MAKER_PROTOCOL_FEE", cfg.Protocol.MinimumMakerProtocolFee)
	cfg.Protocol.MinimumTakerProtocolFee = getEnvBig("MIN_TAKER_PROTOCOL_FEE", cfg.Protocol.MinimumTakerProtocolFee)
	cfg.Protocol.ExchangeToken = getEnvAddress("EXCHANGE_TOKEN", cfg.Protocol.ExchangeToken)

	// Orderbook limits
	if v := os.Getenv("ORDERBOOK_MAX_ORDERS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Orderbook.MaxOrders = n
		}
	}
	if v := os.Getenv("ORDERBOOK_MAX_WHITELIST"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Orderbook.MaxWhitelist = n
		}
	}
	cfg.Orderbook.WhitelistTarget = getEnvAddress("WHITELIST_TARGET", cfg.Orderbook.WhitelistTarget)

	// Node
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.JournalPath = getEnv("JOURNAL_PATH", cfg.Node.JournalPath)
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		cfg.Node.Verbose = verbose == "true"
	}

	// Origins from comma-separated list
	// Example: "http://localhost:3000,https://app.example.com"
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Node.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Node.AllowedOrigins = append(cfg.Node.AllowedOrigins, o)
			}
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAddress ignores values that are not 20-byte hex addresses
func getEnvAddress(key string, defaultValue common.Address) common.Address {
	if value := os.Getenv(key); common.IsHexAddress(value) {
		return common.HexToAddress(value)
	}
	return defaultValue
}

func getEnvBig(key string, defaultValue *big.Int) *big.Int {
	if value := os.Getenv(key); value != "" {
		if n, ok := new(big.Int).SetString(value, 10); ok && n.Sign() >= 0 {
			return n
		}
	}
	return defaultValue
}
