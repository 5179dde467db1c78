package tablebase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/SzilBalazs/bctools/internal/domain"
	"gocloud.dev/blob"
)

// Sink stores downloaded resources under their bare name.
type Sink interface {
	// Write copies r to name and returns the number of bytes stored.
	// A failure reading r is a *domain.FetchError, a failure storing is a
	// *domain.WriteError.
	Write(ctx context.Context, name string, r io.Reader) (int64, error)
	// Location describes where name ends up, for logs.
	Location(name string) string
	Close() error
}

// OpenSink picks a bucket sink for URLs (s3://, gs://, file://, mem://) and a
// local directory sink for everything else.
func OpenSink(ctx context.Context, destination string) (Sink, error) {
	if strings.Contains(destination, "://") {
		bkt, err := blob.OpenBucket(ctx, destination)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", destination, err)
		}
		return &BucketSink{bucket: bkt, url: destination}, nil
	}

	if destination == "" {
		destination = "."
	}
	info, err := os.Stat(destination)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", destination, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("destination %s is not a directory", destination)
	}
	return &LocalSink{Dir: destination}, nil
}

// LocalSink writes into a directory. Data lands in <name>.part first and is
// renamed once complete, so a failed download never leaves a file under the
// final name.
type LocalSink struct {
	Dir string
}

func (s *LocalSink) Location(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s *LocalSink) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	final := s.Location(name)
	part := final + ".part"

	f, err := os.OpenFile(part, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, &domain.WriteError{Path: final, Err: err}
	}

	src := &trackingReader{r: r}
	n, err := io.Copy(f, src)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(part)
		return 0, classifyCopyError(src, final, err)
	}

	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return 0, &domain.WriteError{Path: final, Err: err}
	}

	return n, nil
}

func (s *LocalSink) Close() error { return nil }

// BucketSink writes into a gocloud.dev blob bucket. Blob writers only commit
// on a successful Close, so aborted uploads leave nothing behind.
type BucketSink struct {
	bucket *blob.Bucket
	url    string
}

func NewBucketSink(bucket *blob.Bucket, url string) *BucketSink {
	return &BucketSink{bucket: bucket, url: url}
}

func (s *BucketSink) Location(name string) string {
	return strings.TrimRight(s.url, "/") + "/" + name
}

func (s *BucketSink) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	// Cancelling the writer's context aborts the upload instead of committing
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, name, nil)
	if err != nil {
		return 0, &domain.WriteError{Path: s.Location(name), Err: err}
	}

	src := &trackingReader{r: r}
	n, err := io.Copy(w, src)
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, classifyCopyError(src, s.Location(name), err)
	}

	if err := w.Close(); err != nil {
		return 0, &domain.WriteError{Path: s.Location(name), Err: err}
	}
	return n, nil
}

func (s *BucketSink) Close() error {
	return s.bucket.Close()
}

// trackingReader remembers read failures so a copy error can be attributed
// to the network side or the storage side.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

func classifyCopyError(src *trackingReader, path string, err error) error {
	if src.err != nil {
		var fetchErr *domain.FetchError
		if errors.As(src.err, &fetchErr) {
			return fetchErr
		}
		return &domain.FetchError{URL: path, Err: fmt.Errorf("read body: %w", src.err)}
	}
	return &domain.WriteError{Path: path, Err: err}
}
