package presign

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const ContentType = "application/octet-stream"

// Config - параметры S3
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool

	// если не заданы, используется цепочка по умолчанию
	AccessKeyID     string
	SecretAccessKey string

	Expiration time.Duration
}

// Presigner выдает подписанные PUT-адреса в бакет сырых сессий
type Presigner struct {
	client  *s3.PresignClient
	bucket  string
	expires time.Duration
}

func New(ctx context.Context, cfg Config) (*Presigner, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Hour
	}

	return &Presigner{
		client:  s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		expires: cfg.Expiration,
	}, nil
}

// Key строит путь raw/YYYY/MM/DD/<device>/<session>.bin по времени начала сессии
func Key(deviceID, sessionID string, startedAt time.Time) string {
	t := startedAt.UTC()
	return fmt.Sprintf("raw/%04d/%02d/%02d/%s/%s.bin", t.Year(), int(t.Month()), t.Day(), deviceID, sessionID)
}

func (p *Presigner) Bucket() string            { return p.bucket }
func (p *Presigner) Expiration() time.Duration { return p.expires }

// PresignPut возвращает адрес, по которому устройство загрузит файл одним PUT
func (p *Presigner) PresignPut(ctx context.Context, key string) (string, error) {
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(ContentType),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}
