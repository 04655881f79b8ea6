// Package data wires the concrete backend handles (Postgres, Redis, MinIO,
// Qdrant, Elasticsearch) into one explicitly-constructed container, per
// spec.md §9: "replace [process-wide singletons] with an explicitly
// injected service container ... expose its lifetime as init()/shutdown()
// with deterministic teardown order (reverse of init)."
package data

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kbragio/kbrag/internal/conf"
	"github.com/kbragio/kbrag/internal/model"
)

// Data holds every backend handle the service needs. It is built once at
// startup by New and torn down once via the returned shutdown function, in
// the reverse order of construction.
type Data struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Minio  *minio.Client
	Qdrant *qdrant.Client
	ES     *elasticsearch.Client

	cfg *conf.Config
}

// New constructs the Data container and a deterministic shutdown function.
// Callers must call shutdown() exactly once, typically via defer.
func New(cfg *conf.Config) (*Data, func(), error) {
	db, err := gorm.Open(postgres.Open(cfg.Data.DatabaseSource), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Organization{},
		&model.OrganizationMember{},
		&model.KnowledgeBase{},
		&model.Document{},
		&model.Segment{},
		&model.Page{},
		&model.PermissionLink{},
		&model.ChatSession{},
		&model.ChatMessage{},
		&model.RunLog{},
	); err != nil {
		return nil, nil, fmt.Errorf("automigrate: %w", err)
	}
	log.Println("✅ schema migrated")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Data.RedisAddr,
		Password: cfg.Data.RedisPassword,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Println("✅ redis connected")

	minioClient, err := minio.New(cfg.Data.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Data.MinioAccessKey, cfg.Data.MinioSecretKey, ""),
		Secure: cfg.Data.MinioSecure,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("minio init: %w", err)
	}
	if err := ensureBucket(minioClient, cfg.Data.MinioBucket); err != nil {
		return nil, nil, err
	}
	log.Println("✅ minio connected")

	qdrantHost, qdrantPort := parseHostPort(cfg.Data.QdrantAddr, "localhost", 6334)
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{Host: qdrantHost, Port: qdrantPort})
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant init: %w", err)
	}
	log.Println("✅ qdrant connected")

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{cfg.Data.ESAddr}})
	if err != nil {
		return nil, nil, fmt.Errorf("elasticsearch init: %w", err)
	}
	log.Println("✅ elasticsearch connected")

	d := &Data{
		DB:     db,
		Redis:  rdb,
		Minio:  minioClient,
		Qdrant: qdrantClient,
		ES:     esClient,
		cfg:    cfg,
	}

	shutdown := func() {
		log.Println("shutting down data layer...")
		d.Qdrant.Close()
		_ = d.Redis.Close()
		if sqlDB, err := d.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	return d, shutdown, nil
}

func ensureBucket(c *minio.Client, bucket string) error {
	ctx := context.Background()
	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := c.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func parseHostPort(addr, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return defaultHost, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

// PutObject streams src into the configured bucket under objectKey.
func (d *Data) PutObject(ctx context.Context, objectKey string, src io.Reader, size int64, contentType string) (minio.UploadInfo, error) {
	return d.Minio.PutObject(ctx, d.cfg.Data.MinioBucket, objectKey, src, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
}

// GetObject opens a stream to read objectKey back out of the configured bucket.
func (d *Data) GetObject(ctx context.Context, objectKey string) (*minio.Object, error) {
	return d.Minio.GetObject(ctx, d.cfg.Data.MinioBucket, objectKey, minio.GetObjectOptions{})
}
