package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/llm"
	"github.com/meridian/newsgraph/internal/reliability"
)

// ReconcileJob runs the store reconciliation pass
type ReconcileJob struct {
	reconciler *reliability.Reconciler
}

// NewReconcileJob creates the reconciliation job
func NewReconcileJob(reconciler *reliability.Reconciler) *ReconcileJob {
	return &ReconcileJob{reconciler: reconciler}
}

// Name returns the job name
func (j *ReconcileJob) Name() string { return "reconcile" }

// Run executes one reconciliation pass
func (j *ReconcileJob) Run(ctx context.Context) error {
	_, err := j.reconciler.Run(ctx)
	return err
}

// BackupJob uploads a data directory archive to object storage
type BackupJob struct {
	backup *reliability.BackupService
}

// NewBackupJob creates the backup job
func NewBackupJob(backup *reliability.BackupService) *BackupJob {
	return &BackupJob{backup: backup}
}

// Name returns the job name
func (j *BackupJob) Name() string { return "backup" }

// Run executes one backup
func (j *BackupJob) Run(ctx context.Context) error {
	return j.backup.CreateAndUploadBackup(ctx)
}

// CacheCleanupJob evicts expired embedding cache rows
type CacheCleanupJob struct {
	cache *llm.EmbeddingCache
	log   zerolog.Logger
}

// NewCacheCleanupJob creates the cache cleanup job
func NewCacheCleanupJob(cache *llm.EmbeddingCache, log zerolog.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{cache: cache, log: log.With().Str("job", "cache_cleanup").Logger()}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string { return "cache_cleanup" }

// Run removes expired cache rows
func (j *CacheCleanupJob) Run(_ context.Context) error {
	removed, err := j.cache.Cleanup()
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Expired embeddings evicted")
	}
	return nil
}
