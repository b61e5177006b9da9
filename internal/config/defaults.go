package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Managed control plane endpoints.
const (
	DefaultAPIURL  = "https://obcs-api.obcs.top/api"
	DefaultLinkURL = "https://link.obcs.top"
)

// Default returns the client configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Vault:   VaultConfig{Root: "."},
		Storage: StorageConfig{Kind: StorageManaged},
		Account: AccountConfig{
			APIURL:  DefaultAPIURL,
			LinkURL: DefaultLinkURL,
		},
		Filter: FilterConfig{Mode: "denylist"},
		Upload: UploadConfig{
			Auto:              true,
			AutoMaxFileSize:   20 * 1024 * 1024,
			Stagger:           50 * time.Millisecond,
			FileAttempts:      3,
			FileBackoff:       5 * time.Second,
			PartAttempts:      3,
			PartBackoff:       time.Second,
			FingerprintWindow: 64 * 1024 * 1024,
		},
		Local: LocalConfig{
			Handling:   "trash",
			MoveFolder: "Uploaded_Attachments",
		},
		Notices: true,
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the rules spanning sections.
func Validate(cfg *Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		return describe(err)
	}
	if cfg.Storage.Kind == StorageCustom {
		var missing []string
		if cfg.CustomS3.Bucket == "" {
			missing = append(missing, "custom_s3.bucket")
		}
		if cfg.CustomS3.BaseURL == "" {
			missing = append(missing, "custom_s3.base_url")
		}
		if len(missing) > 0 {
			return fmt.Errorf("custom storage requires %s", strings.Join(missing, ", "))
		}
	}
	return nil
}

// describe turns validator errors into one readable line.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
