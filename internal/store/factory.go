package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config selects and configures a Blob Store backend.
type Config struct {
	Backend   string // "local" (default) or "s3"
	LocalRoot string
	S3Bucket  string
	S3Region  string
}

// New builds the Blob Store backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Blob, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.LocalRoot)
	case "s3":
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return NewS3(client, cfg.S3Bucket), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
