// Package reliability provides the cloud backup and store reconciliation
// services.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/events"
)

// BackupConfig configures the S3-compatible backup target. R2 and minio
// both work through the custom endpoint.
type BackupConfig struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// BackupMetadata describes one uploaded archive
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Files     int       `json:"files"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupService archives the data directory and uploads it to object
// storage.
type BackupService struct {
	cfg     BackupConfig
	client  *s3.Client
	dataDir string
	bus     *events.Bus
	log     zerolog.Logger
}

// NewBackupService creates the backup service. Returns nil when no bucket
// is configured; backups are optional.
func NewBackupService(ctx context.Context, cfg BackupConfig, dataDir string, bus *events.Bus, log zerolog.Logger) (*BackupService, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("backup aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = true
	})

	return &BackupService{
		cfg:     cfg,
		client:  client,
		dataDir: dataDir,
		bus:     bus,
		log:     log.With().Str("service", "backup").Logger(),
	}, nil
}

// CreateAndUploadBackup archives the data directory to a tar.gz and
// uploads it with a metadata sidecar.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir, err := os.MkdirTemp("", "newsgraph-backup-")
	if err != nil {
		return fmt.Errorf("backup staging: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	archivePath := filepath.Join(stagingDir, fmt.Sprintf("newsgraph-%s.tar.gz", startTime.UTC().Format("20060102-150405")))
	files, err := s.createArchive(archivePath)
	if err != nil {
		return fmt.Errorf("backup archive: %w", err)
	}

	checksum, size, err := fileChecksum(archivePath)
	if err != nil {
		return fmt.Errorf("backup checksum: %w", err)
	}

	key := "backups/" + filepath.Base(archivePath)
	if err := s.upload(ctx, key, archivePath); err != nil {
		return fmt.Errorf("backup upload: %w", err)
	}

	metadata := BackupMetadata{
		Timestamp: startTime.UTC(),
		Version:   "1.0.0",
		Files:     files,
		SizeBytes: size,
		Checksum:  checksum,
	}
	metaBlob, _ := json.Marshal(metadata)
	metaKey := key + ".meta.json"
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &metaKey,
		Body:   strings.NewReader(string(metaBlob)),
	}); err != nil {
		return fmt.Errorf("backup metadata upload: %w", err)
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", size).
		Dur("duration", time.Since(startTime)).
		Msg("Backup uploaded")
	s.bus.Publish(events.BackupCompleted, &events.BackupCompletedData{Key: key, SizeBytes: size})
	return nil
}

// createArchive tars the data directory, skipping WAL side files and temp
// files. Returns the file count.
func (s *BackupService) createArchive(archivePath string) (int, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	files := 0
	err = filepath.Walk(s.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if strings.HasSuffix(name, "-wal") || strings.HasSuffix(name, "-shm") || strings.HasPrefix(name, ".") {
			return nil
		}

		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return err
		}
		files++
		return nil
	})
	return files, err
}

func (s *BackupService) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &key,
		Body:   f,
	})
	return err
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
