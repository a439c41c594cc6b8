package export

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/file"
)

// Storage drivers.
const (
	DriverS3    = "s3"
	DriverLocal = "local"
)

// Config selects and configures the artifact storage.
type Config struct {
	Driver         string        `env:"EXPORT_DRIVER" envDefault:"local"`
	LocalDir       string        `env:"EXPORT_LOCAL_DIR" envDefault:"./exports"`
	BaseURL        string        `env:"EXPORT_BASE_URL"`
	Bucket         string        `env:"EXPORT_S3_BUCKET"`
	Region         string        `env:"EXPORT_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string        `env:"EXPORT_S3_ACCESS_KEY_ID"`
	SecretKey      string        `env:"EXPORT_S3_SECRET_KEY"`
	Endpoint       string        `env:"EXPORT_S3_ENDPOINT"`
	Prefix         string        `env:"EXPORT_S3_PREFIX" envDefault:"workqueue"`
	ForcePathStyle bool          `env:"EXPORT_S3_FORCE_PATH_STYLE" envDefault:"false"`
	PageSize       int           `env:"EXPORT_PAGE_SIZE" envDefault:"500"`
	Retention      time.Duration `env:"EXPORT_RETENTION" envDefault:"0"`
}

// NewStorage builds the storage named by cfg.Driver.
func NewStorage(ctx context.Context, cfg Config, opts ...file.S3Option) (file.Storage, error) {
	switch cfg.Driver {
	case DriverS3:
		return file.NewS3Storage(ctx, file.S3Config{
			Bucket:         cfg.Bucket,
			Region:         cfg.Region,
			AccessKeyID:    cfg.AccessKeyID,
			SecretKey:      cfg.SecretKey,
			Endpoint:       cfg.Endpoint,
			BaseURL:        cfg.BaseURL,
			Prefix:         cfg.Prefix,
			ForcePathStyle: cfg.ForcePathStyle,
		}, opts...)
	case DriverLocal, "":
		return file.NewLocalStorage(cfg.LocalDir, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: unknown export driver %q", file.ErrInvalidConfig, cfg.Driver)
	}
}
