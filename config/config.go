package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"luxmarket/crypto"

	"github.com/BurntSushi/toml"
)

const (
	defaultRPCAddress  = ":8645"
	defaultDataDir     = "./lux-data"
	defaultChainID     = uint64(1337)
	defaultEnvironment = "local"
)

// Config is the marketd configuration file.
type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	ChainID              uint64 `toml:"ChainID"`
	Environment          string `toml:"Environment"`
	GenesisFile          string `toml:"GenesisFile"`
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`
	LogLevel             string `toml:"LogLevel"`
	LogFile              string `toml:"LogFile,omitempty"`

	Auth      Auth      `toml:"auth"`
	Market    Market    `toml:"market"`
	Telemetry Telemetry `toml:"telemetry"`
	Indexer   Indexer   `toml:"indexer"`
	RPC       RPC       `toml:"rpc"`
	Genesis   Genesis   `toml:"genesis"`

	unknownKeys []string
}

// UnknownKeys lists keys present in the file that no field consumed.
func (c *Config) UnknownKeys() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.unknownKeys...)
}

// Load loads the configuration from the given path. A missing file is created
// with defaults together with an operator keystore.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "OperatorKey" {
			return nil, fmt.Errorf("config file %s stores a raw OperatorKey; move it into a keystore with marketctl keygen", path)
		}
		cfg.unknownKeys = append(cfg.unknownKeys, undecoded.String())
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.ChainID == 0 {
		c.ChainID = defaultChainID
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = defaultEnvironment
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	c.Auth.applyDefaults()
	c.Market.applyDefaults()
	c.Telemetry.applyDefaults()
	c.Indexer.applyDefaults()
	c.RPC.applyDefaults()
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:  defaultRPCAddress,
		DataDir:     defaultDataDir,
		ChainID:     defaultChainID,
		Environment: defaultEnvironment,
		GenesisFile: "",
		LogLevel:    "info",
	}
	cfg.OperatorKeystorePath = keystorePath
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
