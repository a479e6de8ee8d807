package repo

import (
	"crypto/ecdsa"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var apiModes = []string{"debug", "release", "test"}

type Config struct {
	RepoRoot string   `mapstructure:"-" toml:"-"`
	DialUrl  string   `mapstructure:"dial_url" toml:"dial_url"`
	Log      Log      `mapstructure:"log" toml:"log"`
	API      API      `mapstructure:"api" toml:"api"`
	Keeper   Keeper   `mapstructure:"keeper" toml:"keeper"`
	Receiver Receiver `mapstructure:"receiver" toml:"receiver"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type API struct {
	Enable bool   `mapstructure:"enable" toml:"enable"`
	Listen string `mapstructure:"listen" toml:"listen"`
	// gin mode: debug, release or test
	Mode string `mapstructure:"mode" toml:"mode"`
}

// Keeper finishes proposals automatically once their block limit is reached.
type Keeper struct {
	Enable        bool          `mapstructure:"enable" toml:"enable"`
	RetryLimit    uint          `mapstructure:"retry_limit" toml:"retry_limit"`
	RetryInterval time.Duration `mapstructure:"retry_interval" toml:"retry_interval"`
}

// Receiver signs the finish callbacks of on-chain proposals. An empty key
// makes every on-chain finish fail with EXECUTION_FAILED.
type Receiver struct {
	PrivateKey string `mapstructure:"private_key" toml:"private_key"`
	// 0 means query the chain id from the node
	ChainID uint64 `mapstructure:"chain_id" toml:"chain_id"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		DialUrl:  "ws://localhost:8546",
		Log: Log{
			Level:        "info",
			Filename:     "governor.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		API: API{
			Enable: true,
			Listen: "127.0.0.1:9120",
			Mode:   "release",
		},
		Keeper: Keeper{
			Enable:        true,
			RetryLimit:    5,
			RetryInterval: 5 * time.Second,
		},
		Receiver: Receiver{
			PrivateKey: "",
			ChainID:    0,
		},
	}
}

// Check validates the parts of the config that would only fail at start.
func (c *Config) Check() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.API.Enable && !lo.Contains(apiModes, c.API.Mode) {
		return errors.Errorf("api.mode must be one of %s, got %q", strings.Join(apiModes, ", "), c.API.Mode)
	}
	if c.Keeper.Enable && c.Keeper.RetryLimit == 0 {
		return errors.New("keeper.retry_limit must be positive")
	}
	if _, err := c.ReceiverKey(); err != nil {
		return err
	}
	return nil
}

// ReceiverKey parses receiver.private_key, nil when it is not set.
func (c *Config) ReceiverKey() (*ecdsa.PrivateKey, error) {
	if c.Receiver.PrivateKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.Receiver.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "receiver.private_key")
	}
	return key, nil
}
