package config

import (
	"github.com/gostones/cloudattach/internal/logger"
	"github.com/gostones/cloudattach/internal/retry"
	"github.com/gostones/cloudattach/internal/rewrite"
	"github.com/gostones/cloudattach/internal/transfer"
	"github.com/gostones/cloudattach/internal/upload"
	"github.com/gostones/cloudattach/internal/vault"
)

// Custom reports whether uploads go to the user's own bucket.
func (c *Config) Custom() bool {
	return c.Storage.Kind == StorageCustom
}

// AttachmentFilter builds the upload filter for an account tier.
func (c *Config) AttachmentFilter(userType string) vault.Filter {
	return vault.Filter{
		UserType:        userType,
		Mode:            vault.FilterMode(c.Filter.Mode),
		Extensions:      c.Filter.Extensions,
		MaxFileSize:     int64(c.Filter.MaxFileSize),
		AutoMaxFileSize: int64(c.Upload.AutoMaxFileSize),
	}
}

// ManagerConfig builds the batch settings for an account tier.
func (c *Config) ManagerConfig(userType string) upload.Config {
	return upload.Config{
		Stagger:       c.Upload.Stagger,
		MaxConcurrent: c.Upload.MaxConcurrent,
		FileRetry:     retry.Policy{Attempts: c.Upload.FileAttempts, Base: c.Upload.FileBackoff},
		Rename:        c.Upload.Rename,
		UserType:      userType,
		Disposition:   c.Local.Handling,
		MoveFolder:    c.Local.MoveFolder,
	}
}

// PartRetry is the retry policy of one part or object write.
func (c *Config) PartRetry() retry.Policy {
	return retry.Policy{Attempts: c.Upload.PartAttempts, Base: c.Upload.PartBackoff}
}

func (c *Config) Linker() rewrite.Linker {
	return rewrite.Linker{
		Custom:  c.Custom(),
		BaseURL: c.CustomS3.BaseURL,
		LinkURL: c.Account.LinkURL,
		Private: c.Upload.PrivateLinks,
	}
}

func (c *Config) Bucket() transfer.BucketConfig {
	s := c.CustomS3
	return transfer.BucketConfig{
		Endpoint:       s.Endpoint,
		Region:         s.Region,
		AccessKey:      s.AccessKey,
		SecretKey:      s.SecretKey,
		Bucket:         s.Bucket,
		ForcePathStyle: s.ForcePathStyle,
	}
}

func (l LoggingConfig) Logger() logger.Config {
	return logger.Config{Level: l.Level, Format: l.Format, Output: l.Output}
}
