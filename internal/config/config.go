// Package config loads client and server settings from YAML files,
// CLOUDATTACH_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// CLOUDATTACH_ACCOUNT_ACCESS_TOKEN.
const EnvPrefix = "CLOUDATTACH"

// Storage kinds.
const (
	StorageManaged = "managed"
	StorageCustom  = "custom"
)

// ByteSize is a size in bytes that reads and writes as "5 MiB", "20MB" or
// a plain number.
type ByteSize int64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// ParseByteSize accepts anything go-humanize can parse.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// Config is the client configuration.
type Config struct {
	Vault    VaultConfig    `mapstructure:"vault" yaml:"vault"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Account  AccountConfig  `mapstructure:"account" yaml:"account"`
	CustomS3 CustomS3Config `mapstructure:"custom_s3" yaml:"custom_s3"`
	Filter   FilterConfig   `mapstructure:"filter" yaml:"filter"`
	Upload   UploadConfig   `mapstructure:"upload" yaml:"upload"`
	Local    LocalConfig    `mapstructure:"local" yaml:"local"`

	// Notices shows progress and informational messages. Errors are
	// always shown.
	Notices bool          `mapstructure:"notices" yaml:"notices"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// file is where the configuration was read from, empty when none was found.
	file string
}

// File returns the path the configuration was loaded from.
func (c *Config) File() string {
	return c.file
}

type VaultConfig struct {
	// Root is the directory holding the documents and attachments.
	Root              string   `mapstructure:"root" validate:"required" yaml:"root"`
	MonitoredFolders  []string `mapstructure:"monitored_folders" yaml:"monitored_folders"`
	MonitorSubfolders bool     `mapstructure:"monitor_subfolders" yaml:"monitor_subfolders"`
}

type StorageConfig struct {
	Kind string `mapstructure:"kind" validate:"oneof=managed custom" yaml:"kind"`
}

type AccountConfig struct {
	APIURL       string `mapstructure:"api_url" validate:"required,url" yaml:"api_url"`
	LinkURL      string `mapstructure:"link_url" validate:"required,url" yaml:"link_url"`
	AccessToken  string `mapstructure:"access_token" yaml:"access_token,omitempty"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token,omitempty"`
}

// CustomS3Config describes a bucket owned by the user.
type CustomS3Config struct {
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Bucket         string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	BaseURL        string `mapstructure:"base_url" validate:"omitempty,url" yaml:"base_url,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

type FilterConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=allowlist denylist" yaml:"mode"`
	// Extensions is a comma separated list such as "png, jpg, pdf".
	Extensions  string   `mapstructure:"extensions" yaml:"extensions"`
	MaxFileSize ByteSize `mapstructure:"max_file_size" validate:"gte=0" yaml:"max_file_size"`
}

type UploadConfig struct {
	// Auto uploads new attachments of documents changed while watching.
	Auto            bool     `mapstructure:"auto" yaml:"auto"`
	AutoMaxFileSize ByteSize `mapstructure:"auto_max_file_size" validate:"gte=0" yaml:"auto_max_file_size"`
	Rename          bool     `mapstructure:"rename" yaml:"rename"`
	PrivateLinks    bool     `mapstructure:"private_links" yaml:"private_links"`

	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"gte=0" yaml:"max_concurrent"`
	Stagger       time.Duration `mapstructure:"stagger" validate:"gte=0" yaml:"stagger"`

	FileAttempts int           `mapstructure:"file_attempts" validate:"gte=1" yaml:"file_attempts"`
	FileBackoff  time.Duration `mapstructure:"file_backoff" validate:"gte=0" yaml:"file_backoff"`
	PartAttempts int           `mapstructure:"part_attempts" validate:"gte=1" yaml:"part_attempts"`
	PartBackoff  time.Duration `mapstructure:"part_backoff" validate:"gte=0" yaml:"part_backoff"`

	FingerprintWindow ByteSize `mapstructure:"fingerprint_window" validate:"gt=0" yaml:"fingerprint_window"`
}

type LocalConfig struct {
	Handling   string `mapstructure:"handling" validate:"oneof=trash move" yaml:"handling"`
	MoveFolder string `mapstructure:"move_folder" validate:"required_if=Handling move" yaml:"move_folder"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// Load reads the client configuration. An empty path looks for
// config.yaml in the default directory; a missing file leaves defaults
// and environment overrides in effect.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, "", Default())

	found, err := read(v, path, configDir(), "config")
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if found {
		cfg.file = v.ConfigFileUsed()
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg any, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Init writes the default configuration to path, or to DefaultPath when path
// is empty, and returns the file written. An existing file is only replaced
// when force is set.
func Init(path string, force bool) (string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	if err := Save(Default(), path); err != nil {
		return "", err
	}
	return path, nil
}

// SaveAccessToken stores a refreshed access token under account.access_token
// in the file at path, keeping the rest of the document and its comments.
func SaveAccessToken(path, token string) error {
	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config file %s is not a mapping", path)
	}
	account := mappingValue(root, "account", yaml.MappingNode)
	value := mappingValue(account, "access_token", yaml.ScalarNode)
	value.Tag = "!!str"
	value.Value = token

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, out, 0600)
}

// mappingValue returns the value node stored under key, adding an empty one
// of the given kind when the key is absent.
func mappingValue(m *yaml.Node, key string, kind yaml.Kind) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			v := m.Content[i+1]
			if v.Kind != kind {
				*v = yaml.Node{Kind: kind}
			}
			return v
		}
	}
	v := &yaml.Node{Kind: kind}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		v,
	)
	return v
}

func read(v *viper.Viper, path, dir, name string) (bool, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName(name)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// setDefaults registers every leaf of def as a viper default so that
// environment variables bind even without a config file.
func setDefaults(v *viper.Viper, prefix string, def any) {
	rv := reflect.Indirect(reflect.ValueOf(def))
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("mapstructure")
		if !f.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			setDefaults(v, key, fv.Interface())
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// configDir is $XDG_CONFIG_HOME/cloudattach, ~/.config/cloudattach or ".".
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cloudattach")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cloudattach")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}
