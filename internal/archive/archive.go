// Package archive mirrors experiment trees to an S3-compatible bucket.
//
// An experiment is stored under <prefix>/<experiment dir name>/ with one
// object per file, keyed by its slash-separated path inside the tree. Since
// documents only hold relative references, a pulled tree is usable as is.
// Payloads imported without copying live outside the tree and are not
// mirrored.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roach88/expkit/internal/config"
	"github.com/roach88/expkit/internal/record"
)

// Client is the subset of the S3 API used by the archiver.
type Client interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archiver pushes and pulls experiment trees.
type Archiver struct {
	client Client
	bucket string
	prefix string
	log    *slog.Logger
}

// New builds an Archiver from configuration using the default AWS
// credentials chain.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive.bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient builds an Archiver over an existing client.
func NewWithClient(client Client, bucket, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    logger,
	}
}

// WithPrefix returns a copy of a storing under prefix.
func (a *Archiver) WithPrefix(prefix string) *Archiver {
	c := *a
	c.prefix = strings.Trim(prefix, "/")
	return &c
}

// keyPrefix returns the object key prefix of an experiment, with a
// trailing slash.
func (a *Archiver) keyPrefix(name string) string {
	if a.prefix == "" {
		return name + "/"
	}
	return a.prefix + "/" + name + "/"
}

// Push uploads every regular file of the experiment tree at dir and returns
// the number of objects written. Existing objects are overwritten.
func (a *Archiver) Push(ctx context.Context, dir string) (int, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("resolve experiment: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return 0, record.Errorf(record.CodeNotFound, "push", root, "experiment directory not found")
	}
	base := a.keyPrefix(filepath.Base(root))

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk experiment: %w", err)
	}

	for i, p := range files {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return i, fmt.Errorf("relative path: %w", err)
		}
		key := base + filepath.ToSlash(rel)
		if err := a.put(ctx, key, p); err != nil {
			return i, err
		}
		a.log.Debug("pushed object", "key", key)
	}
	a.log.Info("experiment pushed", "bucket", a.bucket, "prefix", base, "objects", len(files))
	return len(files), nil
}

func (a *Archiver) put(ctx context.Context, key, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Keys lists the object keys of the named experiment, sorted.
func (a *Archiver) Keys(ctx context.Context, name string) ([]string, error) {
	base := a.keyPrefix(name)
	p := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(base),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", base, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Pull downloads the named experiment into destDir/<name> and returns the
// experiment directory. The directory must not exist yet.
func (a *Archiver) Pull(ctx context.Context, name, destDir string) (string, error) {
	target := filepath.Join(destDir, name)
	if _, err := os.Stat(target); err == nil {
		return "", record.Errorf(record.CodeAlreadyExists, "pull", target, "experiment directory already exists")
	}

	keys, err := a.Keys(ctx, name)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", record.Errorf(record.CodeNotFound, "pull", a.keyPrefix(name), "no archived experiment")
	}

	base := a.keyPrefix(name)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rel := strings.TrimPrefix(key, base)
		clean := path.Clean(rel)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
			return "", fmt.Errorf("pull %s: key escapes experiment directory", key)
		}
		if err := a.get(ctx, key, filepath.Join(target, filepath.FromSlash(clean))); err != nil {
			return "", err
		}
	}
	a.log.Info("experiment pulled", "bucket", a.bucket, "prefix", base, "objects", len(keys), "dir", target)
	return target, nil
}

func (a *Archiver) get(ctx context.Context, key, dest string) error {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return f.Close()
}
