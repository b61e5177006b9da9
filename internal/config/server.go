package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ServerConfig configures the reference control plane.
type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required" yaml:"listen"`
	// DataDir holds the badger database. Empty keeps state in memory.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	PartSize     ByteSize `mapstructure:"part_size" validate:"gte=5242880" yaml:"part_size"`
	StorageLimit ByteSize `mapstructure:"storage_limit" validate:"gte=0" yaml:"storage_limit"`
	PerFileLimit ByteSize `mapstructure:"per_file_limit" validate:"gte=0" yaml:"per_file_limit"`

	Account ServerAccount `mapstructure:"account" yaml:"account"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type S3Config struct {
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region         string `mapstructure:"region" validate:"required" yaml:"region"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Bucket         string `mapstructure:"bucket" validate:"required" yaml:"bucket"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// ServerAccount is the single account served by the control plane.
type ServerAccount struct {
	AccessToken  string `mapstructure:"access_token" validate:"required" yaml:"access_token"`
	RefreshToken string `mapstructure:"refresh_token" validate:"required" yaml:"refresh_token"`
	UserType     string `mapstructure:"user_type" validate:"required" yaml:"user_type"`
	FolderName   string `mapstructure:"folder_name" validate:"required" yaml:"folder_name"`
	FolderID     string `mapstructure:"folder_id" validate:"required" yaml:"folder_id"`
}

// DefaultServer returns the server configuration used when nothing is set.
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Listen:       ":4000",
		S3:           S3Config{Region: "us-east-1"},
		PartSize:     5 * 1024 * 1024,
		StorageLimit: 1 << 30,
		PerFileLimit: 100 * 1024 * 1024,
		Account: ServerAccount{
			UserType:   "basic",
			FolderName: "attachments",
			FolderID:   "default",
		},
		Logging: LoggingConfig{Level: "INFO", Format: "text", Output: "stderr"},
	}
}

// LoadServer reads the server configuration the same way Load reads the
// client one. The default file is server.yaml.
func LoadServer(path string) (*ServerConfig, error) {
	v := viper.New()
	setDefaults(v, "", DefaultServer())
	if _, err := read(v, path, configDir(), "server"); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := structValidator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", describe(err))
	}
	return &cfg, nil
}
