package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/ckhsu1225/vvmviz/internal/circuit"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
	"github.com/ckhsu1225/vvmviz/pkg/retry"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// Config represents S3 mirror configuration.
type Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`

	// Endpoint overrides the AWS endpoint for self-hosted object stores.
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// Static credentials. Left empty, the default AWS chain applies.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// StagingDir receives downloaded archive files.
	StagingDir string `yaml:"staging_dir"`

	// Concurrency bounds parallel object downloads.
	Concurrency int `yaml:"concurrency"`

	Retry retry.Config `yaml:"retry"`
}

// multipart settings for the CargoShip transporter
const (
	multipartThreshold = 32 * 1024 * 1024
	multipartChunkSize = 16 * 1024 * 1024
)

// breaker settings for the bucket. Five straight failures open the circuit;
// the next probe happens after the cooldown, typically from the health
// checker.
const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// S3Mirror stages simulation archives from a bucket prefix into a local
// staging directory. Objects already present at the right size are not
// downloaded again.
type S3Mirror struct {
	client      *s3.Client
	transporter *cargoships3.Transporter
	retryer     *retry.Retryer
	breaker     *circuit.Breaker
	bucket      string
	prefix      string
	stagingDir  string
	concurrency int
	logger      *slog.Logger
}

// NewS3Mirror creates an S3-backed store and verifies the bucket is
// reachable.
func NewS3Mirror(ctx context.Context, cfg *Config) (*S3Mirror, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg.StagingDir == "" {
		return nil, fmt.Errorf("staging directory cannot be empty")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.Retry.MaxAttempts),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	logger := slog.Default().With("component", "store", "bucket", cfg.Bucket)

	breaker := circuit.New(circuit.Config{
		Threshold: breakerThreshold,
		Cooldown:  breakerCooldown,
		IsFailure: isBackendFailure,
		OnStateChange: func(from, to circuit.State) {
			if to == circuit.StateClosed {
				logger.Info("object store circuit closed", "from", from.String())
				return
			}
			logger.Warn("object store circuit state changed",
				"from", from.String(), "to", to.String())
		},
	})

	// The transporter carries publishes; downloads use the plain client.
	cargoConfig := awsconfig.S3Config{
		Bucket:             cfg.Bucket,
		StorageClass:       awsconfig.StorageClassIntelligentTiering,
		MultipartThreshold: multipartThreshold,
		MultipartChunkSize: multipartChunkSize,
		Concurrency:        cfg.Concurrency,
	}
	transporter := cargoships3.NewTransporter(client, cargoConfig)

	if err := os.MkdirAll(cfg.StagingDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	mirror := &S3Mirror{
		client:      client,
		transporter: transporter,
		retryer:     retry.New(cfg.Retry),
		breaker:     breaker,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		stagingDir:  cfg.StagingDir,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}

	if err := mirror.HealthCheck(ctx); err != nil {
		return nil, err
	}

	logger.Info("S3 mirror ready",
		"prefix", cfg.Prefix,
		"staging_dir", cfg.StagingDir,
		"concurrency", cfg.Concurrency)

	return mirror, nil
}

// ListSimulations lists the simulation names directly under the configured
// prefix, sorted.
func (m *S3Mirror) ListSimulations(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(m.bucket),
		Prefix:    aws.String(m.keyPrefix()),
		Delimiter: aws.String("/"),
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(m.client, input)
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			p, err := paginator.NextPage(ctx)
			page = p
			return err
		})
		if err != nil {
			return nil, m.translateError(err, "list_simulations", m.prefix)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), m.keyPrefix()), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}

	sort.Strings(names)
	return names, nil
}

// EnsureLocal stages every object under the simulation's prefix into the
// staging directory and returns the staged directory path. Objects whose
// local copy already matches the remote size are skipped.
func (m *S3Mirror) EnsureLocal(ctx context.Context, simPath string) (string, error) {
	name := path.Base(strings.TrimSuffix(simPath, "/"))
	if name == "" || name == "." || name == "/" {
		return "", errors.NewError(errors.ErrCodeSimulationNotFound, "empty simulation name").
			WithComponent("store").
			WithOperation("ensure_local").
			WithContext("path", simPath)
	}

	simPrefix := m.keyPrefix() + name + "/"
	objects, err := m.listObjects(ctx, simPrefix)
	if err != nil {
		return "", err
	}
	if len(objects) == 0 {
		return "", errors.NewError(errors.ErrCodeSimulationNotFound, "no objects under simulation prefix").
			WithComponent("store").
			WithOperation("ensure_local").
			WithContext("prefix", simPrefix)
	}

	localDir := filepath.Join(m.stagingDir, name)

	type job struct {
		key  string
		dest string
	}
	var pending []job
	skipped := 0
	for _, obj := range objects {
		rel, ok := relativeKey(simPrefix, obj.key)
		if !ok {
			m.logger.Warn("skipping unsafe object key", "key", obj.key)
			continue
		}
		dest := filepath.Join(localDir, filepath.FromSlash(rel))
		if staged(dest, obj.size) {
			skipped++
			continue
		}
		pending = append(pending, job{key: obj.key, dest: dest})
	}

	start := time.Now()
	var bytesStaged int64

	if len(pending) > 0 {
		type stageResult struct {
			key string
			n   int64
			err error
		}

		resultCh := make(chan stageResult, len(pending))
		semaphore := make(chan struct{}, m.concurrency)

		for _, j := range pending {
			go func(key, dest string) {
				semaphore <- struct{}{}
				defer func() { <-semaphore }()

				n, err := m.download(ctx, key, dest)
				resultCh <- stageResult{key: key, n: n, err: err}
			}(j.key, j.dest)
		}

		var firstErr error
		for i := 0; i < len(pending); i++ {
			res := <-resultCh
			if res.err != nil {
				if firstErr == nil {
					firstErr = res.err
				}
				continue
			}
			bytesStaged += res.n
		}
		if firstErr != nil {
			return "", firstErr
		}
	}

	m.logger.Info("simulation staged",
		"simulation", name,
		"downloaded", len(pending),
		"skipped", skipped,
		"size", utils.FormatBytes(bytesStaged),
		"duration", time.Since(start))

	return localDir, nil
}

// HealthCheck verifies the bucket is reachable. When the circuit is open
// this is also the path that probes it, via the periodic health checker.
func (m *S3Mirror) HealthCheck(ctx context.Context) error {
	input := &s3.HeadBucketInput{
		Bucket: aws.String(m.bucket),
	}

	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		_, err := m.client.HeadBucket(ctx, input)
		return err
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeStoreUnavailable, "bucket not reachable").
			WithComponent("store").
			WithOperation("health_check").
			WithContext("bucket", m.bucket).
			WithCause(err)
	}
	return nil
}

// Publish uploads a local simulation directory under the configured prefix
// through the CargoShip transporter. The remote layout mirrors the local
// tree.
func (m *S3Mirror) Publish(ctx context.Context, localDir, name string) error {
	if name == "" {
		name = filepath.Base(localDir)
	}

	start := time.Now()
	uploaded := 0
	var bytesSent int64

	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := m.keyPrefix() + name + "/" + filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := m.uploadFile(ctx, p, key, name, info.Size()); err != nil {
			return err
		}

		uploaded++
		bytesSent += info.Size()
		return nil
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeStageFailed, "publish failed").
			WithComponent("store").
			WithOperation("publish").
			WithContext("simulation", name).
			WithCause(err)
	}

	m.logger.Info("simulation published",
		"simulation", name,
		"objects", uploaded,
		"size", utils.FormatBytes(bytesSent),
		"duration", time.Since(start))

	return nil
}

func (m *S3Mirror) uploadFile(ctx context.Context, file, key, simulation string, size int64) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	archive := cargoships3.Archive{
		Key:          key,
		Reader:       f,
		Size:         size,
		StorageClass: awsconfig.StorageClassIntelligentTiering,
		Metadata: map[string]string{
			"vvmviz-upload": "true",
			"content-type":  contentTypeFor(key),
			"simulation":    simulation,
		},
	}

	err = m.breaker.Do(ctx, func(ctx context.Context) error {
		result, err := m.transporter.Upload(ctx, archive)
		if err != nil {
			return err
		}
		m.logger.Debug("object uploaded",
			"key", key,
			"size", size,
			"throughput", result.Throughput,
			"duration", result.Duration)
		return nil
	})
	if err != nil {
		return m.translateError(err, "publish", key)
	}
	return nil
}

type objectInfo struct {
	key  string
	size int64
}

// listObjects collects every object under prefix, following pagination.
func (m *S3Mirror) listObjects(ctx context.Context, prefix string) ([]objectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(prefix),
	}

	var objects []objectInfo
	paginator := s3.NewListObjectsV2Paginator(m.client, input)
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			p, err := paginator.NextPage(ctx)
			page = p
			return err
		})
		if err != nil {
			return nil, m.translateError(err, "list_objects", prefix)
		}
		for _, obj := range page.Contents {
			objects = append(objects, objectInfo{
				key:  aws.ToString(obj.Key),
				size: aws.ToInt64(obj.Size),
			})
		}
	}

	return objects, nil
}

// download fetches one object into dest with retry. The file lands under a
// partial name and is renamed only after a complete read, so an interrupted
// transfer never passes the size check on the next load.
func (m *S3Mirror) download(ctx context.Context, key, dest string) (int64, error) {
	var n int64
	err := m.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		written, err := m.fetchObject(ctx, key, dest)
		n = written
		return err
	})
	return n, err
}

func (m *S3Mirror) fetchObject(ctx context.Context, key, dest string) (int64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	}

	var result *s3.GetObjectOutput
	err := m.breaker.Do(ctx, func(ctx context.Context) error {
		r, err := m.client.GetObject(ctx, input)
		result = r
		return err
	})
	if err != nil {
		return 0, m.translateError(err, "get_object", key)
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return 0, errors.NewError(errors.ErrCodeStageFailed, "failed to create staging path").
			WithComponent("store").
			WithOperation("get_object").
			WithContext("dest", dest).
			WithCause(err)
	}

	partial := dest + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeStageFailed, "failed to create staging file").
			WithComponent("store").
			WithOperation("get_object").
			WithContext("dest", partial).
			WithCause(err)
	}

	n, err := io.Copy(f, result.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(partial)
		return 0, errors.NewError(errors.ErrCodeStageFailed, "object download interrupted").
			WithComponent("store").
			WithOperation("get_object").
			WithContext("key", key).
			WithCause(err)
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return 0, errors.NewError(errors.ErrCodeStageFailed, "failed to finalize staged file").
			WithComponent("store").
			WithOperation("get_object").
			WithContext("dest", dest).
			WithCause(err)
	}

	return n, nil
}

// keyPrefix returns the configured prefix normalized to end with one slash,
// or the empty string for the bucket root.
func (m *S3Mirror) keyPrefix() string {
	if m.prefix == "" {
		return ""
	}
	return strings.TrimSuffix(m.prefix, "/") + "/"
}

// relativeKey strips prefix from key and rejects keys that would escape the
// staging directory.
func relativeKey(prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(key, prefix)
	if rel == "" || rel == key || strings.HasPrefix(rel, "/") {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", false
		}
	}
	return rel, true
}

// isBackendFailure reports whether err indicates the object store itself is
// unhealthy. Missing keys and caller cancellation say nothing about the
// backend, so they never trip the circuit.
func isBackendFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var noKey *s3types.NoSuchKey
	return !errors.As(err, &noKey)
}

// staged reports whether dest already holds a complete copy of size bytes.
func staged(dest string, size int64) bool {
	info, err := os.Stat(dest)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() == size
}

func (m *S3Mirror) translateError(err error, op, key string) error {
	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	switch {
	case errors.Is(err, circuit.ErrOpen):
		return errors.NewError(errors.ErrCodeStoreUnavailable, "object store unavailable, circuit open").
			WithComponent("store").
			WithOperation(op).
			WithCause(err)
	case errors.As(err, &noKey):
		return errors.NewError(errors.ErrCodeSimulationNotFound, fmt.Sprintf("object not found: %s", key)).
			WithComponent("store").
			WithOperation(op).
			WithCause(err)
	case errors.As(err, &noBucket):
		return errors.NewError(errors.ErrCodeBucketNotFound, fmt.Sprintf("bucket not found: %s", m.bucket)).
			WithComponent("store").
			WithOperation(op).
			WithCause(err)
	default:
		return errors.NewError(errors.ErrCodeStageFailed, fmt.Sprintf("%s failed for %s", op, key)).
			WithComponent("store").
			WithOperation(op).
			WithCause(err)
	}
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".nc"):
		return "application/x-netcdf"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return "application/yaml"
	case strings.HasSuffix(name, ".txt"), strings.HasSuffix(name, ".log"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
