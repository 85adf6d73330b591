// Package s3 implements a Driver Contract backend over an S3-compatible
// bucket, adapted from an earlier internal/storage/s3 backend: the client
// construction and error-translation shape are kept, generalized from one
// hardcoded bucket to a schema-driven mount, and the CargoShip-specific
// transport optimization and storage-tier cost modeling are dropped — they
// address an AWS billing concern this gateway's driver contract has no
// vocabulary for.
package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/unidrive/core/internal/registry"
	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

func init() {
	registry.Default().Register(types.DriverKind{
		Kind:        "s3",
		DisplayName: "S3-Compatible Object Storage",
		Schema: types.Schema{Fields: []types.SchemaField{
			{Name: "bucket", Type: "string", Required: true},
			{Name: "prefix", Type: "string", Required: false, Default: ""},
			{Name: "region", Type: "string", Required: false, Default: "us-east-1"},
			{Name: "endpoint", Type: "string", Required: false},
			{Name: "access_key_id", Type: "string", Required: false, Format: "password"},
			{Name: "secret_access_key", Type: "string", Required: false, Format: "password"},
			{Name: "force_path_style", Type: "bool", Required: false, Default: false},
			{Name: "read_only", Type: "bool", Required: false, Default: false},
		}},
		New: New,
	})
}

var caps = types.NewCapabilitySet(
	types.CapList, types.CapRead, types.CapReadRange,
	types.CapWriteStream, types.CapWriteWhole,
	types.CapDelete, types.CapMkdir, types.CapRename, types.CapMove, types.CapCopy,
	types.CapDirectLink,
)

var readOnlyCaps = types.NewCapabilitySet(types.CapList, types.CapRead, types.CapReadRange, types.CapDirectLink)

// Driver implements types.Driver over one S3 bucket, optionally scoped to a
// key prefix so several mounts can share a bucket.
type Driver struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	readOnly bool
	presign  *s3.PresignClient
}

// New constructs a Driver from a validated config map.
func New(config map[string]any) (types.Driver, error) {
	bucket, _ := config["bucket"].(string)
	if bucket == "" {
		return nil, &types.ConfigError{Field: "bucket", Reason: "must be a non-empty bucket name"}
	}
	region, _ := config["region"].(string)
	if region == "" {
		region = "us-east-1"
	}
	endpoint, _ := config["endpoint"].(string)
	accessKey, _ := config["access_key_id"].(string)
	secretKey, _ := config["secret_access_key"].(string)
	forcePathStyle, _ := config["force_path_style"].(bool)
	readOnly, _ := config["read_only"].(bool)
	prefix, _ := config["prefix"].(string)
	prefix = strings.Trim(prefix, "/")

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, &types.ConfigError{Field: "region", Reason: "failed to load AWS config", Wrapped: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if forcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Driver{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		readOnly: readOnly,
		presign:  s3.NewPresignClient(client),
	}, nil
}

func (d *Driver) Name() string { return "s3:" + d.bucket + "/" + d.prefix }

func (d *Driver) Capabilities() types.CapabilitySet {
	if d.readOnly {
		return readOnlyCaps
	}
	return caps
}

// key maps an inner path onto an S3 object key under this driver's prefix.
// A trailing slash marks a directory-listing scope; keys never start with
// "/" since S3 has no concept of an absolute path.
func (d *Driver) key(innerPath string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+innerPath), "/")
	if d.prefix == "" {
		return cleaned
	}
	if cleaned == "" {
		return d.prefix
	}
	return d.prefix + "/" + cleaned
}

func (d *Driver) List(ctx context.Context, innerPath string) ([]types.Entry, error) {
	prefix := d.key(innerPath)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []types.Entry
	var token *string
	for {
		out, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, translateErr(err, "list", innerPath)
		}

		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, types.Entry{
				Name:     name,
				Path:     strings.TrimSuffix(innerPath, "/") + "/" + name,
				IsDir:    true,
				Provider: "s3",
			})
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			if name == "" {
				continue // the directory marker object itself
			}
			modified := aws.ToTime(obj.LastModified)
			entries = append(entries, types.Entry{
				Name:     name,
				Path:     strings.TrimSuffix(innerPath, "/") + "/" + name,
				Size:     uint64(aws.ToInt64(obj.Size)),
				Modified: &modified,
				Hashes:   map[string]string{"etag": strings.Trim(aws.ToString(obj.ETag), `"`)},
				Provider: "s3",
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return entries, nil
}

type objectReadCloser struct {
	body io.ReadCloser
	size int64
}

func (r *objectReadCloser) Read(p []byte) (int, error) { return r.body.Read(p) }
func (r *objectReadCloser) Close() error                { return r.body.Close() }
func (r *objectReadCloser) Size() int64                  { return r.size }

func (d *Driver) OpenReader(ctx context.Context, innerPath string, rng *types.Range) (types.ReadCloser, error) {
	input := &s3.GetObjectInput{Bucket: aws.String(d.bucket), Key: aws.String(d.key(innerPath))}
	if rng != nil {
		if rng.HasEnd() {
			input.Range = aws.String(httpRange(rng.Start, rng.End-1))
		} else {
			input.Range = aws.String(httpRange(rng.Start, -1))
		}
	}

	out, err := d.client.GetObject(ctx, input)
	if err != nil {
		return nil, translateErr(err, "open_reader", innerPath)
	}
	return &objectReadCloser{body: out.Body, size: aws.ToInt64(out.ContentLength)}, nil
}

func httpRange(start, end int64) string {
	if end < 0 {
		return "bytes=" + itoa(start) + "-"
	}
	return "bytes=" + itoa(start) + "-" + itoa(end)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (d *Driver) Put(ctx context.Context, innerPath string, src types.ByteSource, sizeHint int64, progress types.ProgressFunc) error {
	_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(innerPath)),
		Body:   src,
	})
	if err != nil {
		return translateErr(err, "put", innerPath)
	}
	if progress != nil && sizeHint > 0 {
		progress(uint64(sizeHint), uint64(sizeHint))
	}
	return nil
}

type uploadWriteCloser struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pw      *io.PipeWriter
	done    chan error
	aborted bool
}

func (w *uploadWriteCloser) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *uploadWriteCloser) Close() error {
	if w.aborted {
		return nil
	}
	w.pw.Close()
	return <-w.done
}

func (w *uploadWriteCloser) Abort(ctx context.Context) error {
	w.aborted = true
	w.cancel()
	w.pw.CloseWithError(context.Canceled)
	<-w.done
	return nil
}

func (d *Driver) OpenWriter(ctx context.Context, innerPath string, sizeHint int64, progress types.ProgressFunc) (types.WriteCloser, error) {
	pr, pw := io.Pipe()
	uploadCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() {
		_, err := d.uploader.Upload(uploadCtx, &s3.PutObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(d.key(innerPath)),
			Body:   pr,
		})
		pr.CloseWithError(err)
		done <- err
	}()

	return &uploadWriteCloser{ctx: uploadCtx, cancel: cancel, pw: pw, done: done}, nil
}

func (d *Driver) Delete(ctx context.Context, innerPath string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(innerPath)),
	})
	if err != nil {
		return translateErr(err, "delete", innerPath)
	}
	// Best-effort: also remove the directory-marker form of this path, since
	// a caller deleting "/a/b" as a directory expects both to go.
	marker := d.key(innerPath)
	if !strings.HasSuffix(marker, "/") {
		marker += "/"
	}
	_, _ = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(d.bucket), Key: aws.String(marker)})
	return nil
}

func (d *Driver) CreateDir(ctx context.Context, innerPath string) error {
	key := d.key(innerPath)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(d.bucket), Key: aws.String(key)})
	if err == nil {
		return errors.New(errors.AlreadyExists, "directory marker already exists").WithComponent("s3").WithPath(innerPath)
	}

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return translateErr(err, "create_dir", innerPath)
	}
	return nil
}

func (d *Driver) Rename(ctx context.Context, innerPath, newName string) error {
	dst := path.Join(path.Dir(innerPath), newName)
	if err := d.copyObject(ctx, innerPath, dst); err != nil {
		return err
	}
	return d.Delete(ctx, innerPath)
}

func (d *Driver) MoveItem(ctx context.Context, src, dst string) error {
	if err := d.copyObject(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

func (d *Driver) CopyItem(ctx context.Context, src, dst string) error {
	return d.copyObject(ctx, src, dst)
}

func (d *Driver) copyObject(ctx context.Context, src, dst string) error {
	source := d.bucket + "/" + d.key(src)
	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(source),
		Key:        aws.String(d.key(dst)),
	})
	if err != nil {
		return translateErr(err, "copy_item", src)
	}
	return nil
}

func (d *Driver) DirectLink(ctx context.Context, innerPath string) (string, error) {
	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(innerPath)),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", translateErr(err, "direct_link", innerPath)
	}
	return req.URL, nil
}

func (d *Driver) SpaceInfo(ctx context.Context) (types.SpaceInfo, error) {
	return types.SpaceInfo{}, errors.New(errors.Unsupported, "S3 does not report bucket capacity").WithComponent("s3")
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		return translateErr(err, "health_check", "")
	}
	return nil
}

func translateErr(err error, operation, path string) error {
	if err == nil {
		return nil
	}
	kind := errors.Permanent

	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	var apiErr smithy.APIError
	switch {
	case stderrors.As(err, &nsk), stderrors.As(err, &nsb):
		kind = errors.NotFound
	case stderrors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			kind = errors.NotFound
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			kind = errors.Auth
		case "SlowDown", "RequestTimeout", "ServiceUnavailable", "InternalError":
			kind = errors.Transient
		case "TooManyRequests":
			kind = errors.RateLimited
		}
	}

	return errors.Wrap(kind, err, err.Error()).
		WithComponent("s3").WithOperation(operation).WithPath(path).WithNativeCode(errCode(err))
}

func errCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
