package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"content-pipeline-engine/internal/config"
)

// Uploader stores a rendered asset and returns its public location.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// MediaStep renders a cover image and thumbnail for the post and uploads them
// to S3 or local disk. Registered under the step name "pixel".
type MediaStep struct {
	uploader Uploader
	width    int
	height   int
}

// NewMediaStep picks the uploader from config: S3 when a bucket is set,
// otherwise the local media directory.
func NewMediaStep(ctx context.Context, cfg config.Config) (*MediaStep, error) {
	var uploader Uploader
	if cfg.MediaS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		uploader = &s3Uploader{client: client, bucket: cfg.MediaS3Bucket}
	} else {
		baseDir := cfg.MediaOutputDir
		if baseDir == "" {
			baseDir = "./media"
		}
		uploader = &localUploader{baseDir: baseDir}
	}
	return &MediaStep{uploader: uploader, width: 1200, height: 630}, nil
}

// NewMediaStepWithUploader is used by tests and custom deployments.
func NewMediaStepWithUploader(u Uploader) *MediaStep {
	return &MediaStep{uploader: u, width: 1200, height: 630}
}

func (m *MediaStep) Name() string { return "pixel" }

// Run renders the cover deterministically from the item title, so a retried
// run produces the same bytes and overwrites the same keys.
func (m *MediaStep) Run(ctx context.Context, in StepInput) (StepResult, error) {
	slug := Slugify(in.Item.Title)
	if slug == "" {
		return StepResult{}, Permanent(fmt.Errorf("pixel: cannot derive slug from title %q", in.Item.Title))
	}

	cover := m.render(in.Item.Title)

	coverBuf := &bytes.Buffer{}
	if err := imaging.Encode(coverBuf, cover, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return StepResult{}, fmt.Errorf("encode cover: %w", err)
	}

	thumb := imaging.Resize(cover, 320, 0, imaging.Lanczos)
	thumbBuf := &bytes.Buffer{}
	if err := imaging.Encode(thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return StepResult{}, fmt.Errorf("encode thumbnail: %w", err)
	}

	prefix := fmt.Sprintf("%s/%d", in.Item.TenantID, in.Item.ID)
	coverURL, err := m.uploader.Upload(ctx, sanitizeKey(prefix+"/"+slug+".jpg"), coverBuf.Bytes(), "image/jpeg")
	if err != nil {
		return StepResult{}, fmt.Errorf("upload cover: %w", err)
	}
	thumbURL, err := m.uploader.Upload(ctx, sanitizeKey(prefix+"/"+slug+"_thumb.jpg"), thumbBuf.Bytes(), "image/jpeg")
	if err != nil {
		return StepResult{}, fmt.Errorf("upload thumbnail: %w", err)
	}

	return StepResult{
		Data: map[string]any{
			"cover_url":     coverURL,
			"thumbnail_url": thumbURL,
			"width":         m.width,
			"height":        m.height,
		},
		Reasoning: fmt.Sprintf("pixel rendered cover for %q", in.Item.Title),
	}, nil
}

// render draws a two-tone gradient seeded by the title and softens it.
func (m *MediaStep) render(title string) image.Image {
	h := fnv.New32a()
	_, _ = h.Write([]byte(title))
	seed := h.Sum32()

	top := color.NRGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255}
	bottom := color.NRGBA{R: top.B, G: top.R, B: top.G, A: 255}

	img := image.NewNRGBA(image.Rect(0, 0, m.width, m.height))
	for y := 0; y < m.height; y++ {
		t := float64(y) / float64(m.height-1)
		c := color.NRGBA{
			R: lerp(top.R, bottom.R, t),
			G: lerp(top.G, bottom.G, t),
			B: lerp(top.B, bottom.B, t),
			A: 255,
		}
		for x := 0; x < m.width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return imaging.Blur(img, 1.5)
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.MediaS3Region),
	}
	if cfg.MediaS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.MediaS3Endpoint,
					HostnameImmutable: cfg.MediaS3PathStyle,
					SigningRegion:     cfg.MediaS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.MediaS3PathStyle
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
