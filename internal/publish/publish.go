// Package publish uploads built assets to S3-compatible storage, usually the
// origin bucket behind the CDN.
package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxbase-eu/fluxassets/internal/config"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/hashicorp/go-multierror"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// CacheControl is set on every uploaded object. Published files carry a
// content hash in their name.
const CacheControl = "public, max-age=31536000, immutable"

// DefaultConcurrency is the number of parallel uploads
const DefaultConcurrency = 8

// Client is the subset of the minio client used for publishing
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewClient creates a minio client for an S3-compatible endpoint
func NewClient(cfg *config.PublishConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("region", cfg.Region).
		Bool("ssl", cfg.UseSSL).
		Msg("S3-compatible storage initialized")
	return client, nil
}

// Options configures a Publisher
type Options struct {
	Bucket string
	// Prefix is prepended to every object key
	Prefix      string
	Concurrency int
	Metrics     *observability.Metrics
	// DryRun lists the uploads without sending them
	DryRun bool
}

// Object is one uploaded file
type Object struct {
	Key         string `json:"key" yaml:"key"`
	Path        string `json:"path" yaml:"path"`
	Size        int64  `json:"size" yaml:"size"`
	ContentType string `json:"content_type" yaml:"content_type"`
}

// Report summarizes a publish run
type Report struct {
	Objects []Object `json:"objects" yaml:"objects"`
	Bytes   int64    `json:"bytes" yaml:"bytes"`
}

// Publisher uploads a folder tree to a bucket
type Publisher struct {
	client Client
	opts   Options
}

// New creates a publisher
func New(client Client, opts Options) *Publisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Publisher{client: client, opts: opts}
}

// Key returns the object key for a path relative to the published folder
func (p *Publisher) Key(rel string) string {
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	prefix := strings.Trim(p.opts.Prefix, "/")
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

// ContentType guesses a file's content type from its extension
func ContentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Files lists the objects that publishing folder would upload, sorted by key
func (p *Publisher) Files(folder string) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(folder, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(folder, fp)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:         p.Key(rel),
			Path:        fp,
			Size:        info.Size(),
			ContentType: ContentType(fp),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", folder, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Publish uploads every file under folder. Failed uploads do not stop the
// others; all failures are returned together.
func (p *Publisher) Publish(ctx context.Context, folder string) (*Report, error) {
	objects, err := p.Files(folder)
	if err != nil {
		return nil, err
	}
	report := &Report{}

	if p.opts.DryRun {
		for _, o := range objects {
			report.Objects = append(report.Objects, o)
			report.Bytes += o.Size
		}
		return report, nil
	}

	exists, err := p.client.BucketExists(ctx, p.opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", p.opts.Bucket)
	}

	var (
		mu    sync.Mutex
		errs  *multierror.Error
		total atomic.Int64
		g     errgroup.Group
	)
	uploaded := make([]bool, len(objects))
	g.SetLimit(p.opts.Concurrency)
	for i, o := range objects {
		g.Go(func() error {
			if err := p.upload(ctx, o); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return nil
			}
			uploaded[i] = true
			total.Add(o.Size)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range objects {
		if uploaded[i] {
			report.Objects = append(report.Objects, o)
		}
	}
	report.Bytes = total.Load()
	log.Info().
		Str("bucket", p.opts.Bucket).
		Int("objects", len(report.Objects)).
		Int64("bytes", report.Bytes).
		Msg("Published assets")
	return report, errs.ErrorOrNil()
}

func (p *Publisher) upload(ctx context.Context, o Object) (err error) {
	ctx, span := observability.StartPublishSpan(ctx, p.opts.Bucket, o.Key)
	started := time.Now()
	defer func() {
		observability.EndSpan(span, started, err)
		p.opts.Metrics.RecordPublish(o.Size, err)
	}()

	f, err := os.Open(o.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", o.Path, err)
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, p.opts.Bucket, o.Key, f, o.Size, minio.PutObjectOptions{
		ContentType:  o.ContentType,
		CacheControl: CacheControl,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", o.Key, err)
	}
	log.Debug().
		Str("key", o.Key).
		Int64("size", o.Size).
		Str("trace_id", observability.ExtractTraceID(ctx)).
		Msg("Uploaded asset")
	return nil
}
