package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/wx-shi/utxo-balance/internal/model"
	"gopkg.in/yaml.v2"
)

const (
	defaultHost            = "localhost"
	defaultPort            = 8080
	defaultLogLevel        = "info"
	defaultValidateTimeout = 10 * time.Second
	defaultResolveTimeout  = 30 * time.Second
	defaultMaxOpenConns    = 16

	OracleRPC    = "rpc"
	OracleDecode = "decode"

	DriverKV = "kv"
)

// Config holds the configuration settings for the application.
type Config struct {
	Server   *ServerConfig                `yaml:"server"`
	LogLevel string                       `yaml:"log_level"`
	Timeouts *TimeoutConfig               `yaml:"timeouts"`
	Chains   map[model.Chain]*ChainConfig `yaml:"chains"`
}

// ServerConfig holds the configuration settings for the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TimeoutConfig bounds the oracle call and the ledger resolution of one request.
type TimeoutConfig struct {
	Validate time.Duration `yaml:"validate"`
	Resolve  time.Duration `yaml:"resolve"`
}

// ChainConfig wires one chain to its address oracle and its ledger store.
type ChainConfig struct {
	Oracle *OracleConfig `yaml:"oracle"`
	Ledger *LedgerConfig `yaml:"ledger"`
}

// OracleConfig holds the settings of an address validity oracle.
// Kind "rpc" talks to a full node over JSON-RPC, "decode" checks the
// address format locally.
type OracleConfig struct {
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// CookiePath points at the node's .cookie file, used instead of
	// User/Password when set.
	CookiePath string `yaml:"cookie_path"`
}

// LedgerConfig selects the ledger store backend.
//
// SQL drivers (mysql, pgx, postgres, sqlite3) use DSN. The kv driver uses a
// cosmos-db backend (goleveldb, memdb) opened as Name under Dir.
type LedgerConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Backend      string `yaml:"backend"`
	Name         string `yaml:"name"`
	Dir          string `yaml:"dir"`
}

// LoadConfig reads and parses the configuration file.
// ${VAR} references are expanded from the environment, which is first
// populated from an optional .env file next to the process.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse decodes a YAML document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, err
	}
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Timeouts == nil {
		c.Timeouts = &TimeoutConfig{}
	}
	if c.Timeouts.Validate == 0 {
		c.Timeouts.Validate = defaultValidateTimeout
	}
	if c.Timeouts.Resolve == 0 {
		c.Timeouts.Resolve = defaultResolveTimeout
	}
	for _, cc := range c.Chains {
		if cc == nil {
			continue
		}
		if cc.Oracle != nil && cc.Oracle.Kind == "" {
			cc.Oracle.Kind = OracleRPC
		}
		if cc.Ledger != nil && cc.Ledger.MaxOpenConns == 0 {
			cc.Ledger.MaxOpenConns = defaultMaxOpenConns
		}
	}
}

// Validate checks that every configured chain is supported and fully wired.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	for chain, cc := range c.Chains {
		if _, ok := model.ParseChain(string(chain)); !ok {
			return fmt.Errorf("chain %q is not supported", chain)
		}
		if cc == nil || cc.Oracle == nil || cc.Ledger == nil {
			return fmt.Errorf("chain %s: oracle and ledger are required", chain)
		}
		switch cc.Oracle.Kind {
		case OracleRPC:
			if cc.Oracle.URL == "" {
				return fmt.Errorf("chain %s: oracle url is required", chain)
			}
			if cc.Oracle.Password == "" && cc.Oracle.CookiePath == "" {
				return fmt.Errorf("chain %s: rpc oracle needs a password or a cookie_path", chain)
			}
		case OracleDecode:
		default:
			return fmt.Errorf("chain %s: unknown oracle kind %q", chain, cc.Oracle.Kind)
		}
		switch cc.Ledger.Driver {
		case "":
			return fmt.Errorf("chain %s: ledger driver is required", chain)
		case DriverKV:
			if cc.Ledger.Backend == "" || cc.Ledger.Name == "" {
				return fmt.Errorf("chain %s: kv ledger needs backend and name", chain)
			}
		default:
			if cc.Ledger.DSN == "" {
				return fmt.Errorf("chain %s: ledger dsn is required", chain)
			}
		}
	}
	if c.Timeouts.Validate < 0 || c.Timeouts.Resolve < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
