package storage

import (
	"context"
	"fmt"
	"time"

	"soniq/config"
	"soniq/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the object-storage capability the pipeline needs. The MinIO
// client satisfies it in production; tests substitute local-filesystem fakes.
type ObjectStore interface {
	Download(ctx context.Context, objectKey, localPath string) error
	UploadFromFile(ctx context.Context, objectKey, localPath, contentType string) error
}

// MinioStore implements ObjectStore against a MinIO bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// InitMinio 初始化 MinIO 客户端并确认存储桶可用。
func InitMinio(cfg *config.Config) (*MinioStore, error) {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 检查存储桶是否存在，不存在则创建
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("MinIO 客户端初始化成功")
	return &MinioStore{client: client, bucket: cfg.MinioBucket}, nil
}

// Download fetches an object into a local file.
func (s *MinioStore) Download(ctx context.Context, objectKey, localPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, objectKey, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("下载对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

// UploadFromFile uploads a local file under the given object key.
func (s *MinioStore) UploadFromFile(ctx context.Context, objectKey, localPath, contentType string) error {
	if _, err := s.client.FPutObject(ctx, s.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

// StatObject 返回对象信息，供运维子命令检查存储内容。
func (s *MinioStore) StatObject(ctx context.Context, objectKey string) (minio.ObjectInfo, error) {
	return s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
}

// WaveformKey returns the deterministic artifact key for a track's waveform,
// kept separate from the source audio's key space.
func WaveformKey(userID, trackID string) string {
	return fmt.Sprintf("waveforms/%s/%s/peaks.json", userID, trackID)
}
