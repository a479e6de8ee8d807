package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "GOVERNOR_PATH"

	envPrefix = "GOVERNOR"

	cfgFileName = "governor.toml"

	defaultRepoRoot = "~/.governor"

	LogsDirName = "logs"

	StorageDirName = "storage"
)

// Repo is the on-disk home of a governor node: the config file, the logs
// and the proposal storage.
type Repo struct {
	Config *Config
}

// Exist reports whether anything lives at path.
func Exist(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !os.IsNotExist(err)
}

// Load reads the config under repoRoot, writing the defaults first when the
// repo is new. Environment variables prefixed with GOVERNOR_ override the
// file in both cases.
func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}

	if err := CheckWritable(rootPath); err != nil {
		return nil, err
	}

	cfg := DefaultConfig(rootPath)
	cfgPath := filepath.Join(rootPath, cfgFileName)
	if Exist(cfgPath) {
		err = readConfigFromFile(cfgPath, cfg)
	} else {
		err = writeConfigWithEnv(cfgPath, cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", cfgPath)
	}

	if err := cfg.Check(); err != nil {
		return nil, errors.Wrapf(err, "check %s", cfgPath)
	}

	r := &Repo{Config: cfg}
	for _, dir := range []string{r.LogsPath(), r.StoragePath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	return r, nil
}

func (r *Repo) LogsPath() string {
	return filepath.Join(r.Config.RepoRoot, LogsDirName)
}

// StoragePath is where the engine keeps proposals and votes.
func (r *Repo) StoragePath() string {
	return filepath.Join(r.Config.RepoRoot, StorageDirName)
}

// Flush writes the config back with the environment overrides applied.
func (r *Repo) Flush() error {
	cfgPath := filepath.Join(r.Config.RepoRoot, cfgFileName)
	if err := writeConfigWithEnv(cfgPath, r.Config); err != nil {
		return errors.Wrapf(err, "write %s", cfgPath)
	}
	return nil
}

// writeConfigWithEnv writes config, reads it back through viper to pick up
// environment overrides and writes the merged result.
func writeConfigWithEnv(cfgPath string, config any) error {
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	if err := readConfigFromFile(cfgPath, config); err != nil {
		return errors.Wrap(err, "apply environment")
	}
	return writeConfig(cfgPath, config)
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, []byte(raw), 0644)
}

func MarshalConfig(config any) (string, error) {
	var buf bytes.Buffer
	e := toml.NewEncoder(&buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	if err := e.Encode(config); err != nil {
		return "", errors.Wrap(err, "encode config")
	}
	return buf.String(), nil
}

// LoadRepoRootFromEnv resolves the repo root: the explicit path, then
// GOVERNOR_PATH, then ~/.governor.
func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	if p := os.Getenv(rootPathEnvVar); p != "" {
		return p, nil
	}
	return homedir.Expand(defaultRepoRoot)
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if err := vp.ReadInConfig(); err != nil {
		return err
	}
	return vp.Unmarshal(config)
}

// CheckWritable makes sure dir exists and the current user can write to it.
func CheckWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("cannot create %s, incorrect permissions", dir)
		}
		return errors.Wrapf(err, "create %s", dir)
	}

	f, err := os.CreateTemp(dir, ".writable")
	if err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("%s is not writeable by the current user", dir)
		}
		return errors.Wrapf(err, "check writability of %s", dir)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
