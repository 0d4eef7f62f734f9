package dataset

import (
	"context"

	"github.com/csvqa/csvqa/internal/config"
	"github.com/csvqa/csvqa/internal/storage"
	"github.com/csvqa/csvqa/internal/storage/local"
	s3store "github.com/csvqa/csvqa/internal/storage/s3"
)

// OpenStore returns the bucket store when the object store is enabled and
// the local dataset directory otherwise.
func OpenStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if !cfg.ObjectStore.Enabled {
		return local.New(cfg.Dataset.Dir)
	}
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
}
