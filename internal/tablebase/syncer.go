package tablebase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/infra/logger"
	"github.com/dustin/go-humanize"
)

type Options struct {
	// Concurrency is the number of parallel downloads. 1 is sequential.
	Concurrency int
	// SaveIndex stores the raw index document as index.html in the sink.
	SaveIndex bool
	// SkipNonFiles drops parent, query and nested links from the index.
	SkipNonFiles bool
}

// Syncer mirrors a remote directory listing into a Sink.
type Syncer struct {
	client       *Client
	sink         Sink
	log          *logger.Logger
	concurrency  int
	saveIndex    bool
	skipNonFiles bool
}

func NewSyncer(client *Client, sink Sink, log *logger.Logger, opts Options) *Syncer {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Syncer{
		client:       client,
		sink:         sink,
		log:          log,
		concurrency:  opts.Concurrency,
		saveIndex:    opts.SaveIndex,
		skipNonFiles: opts.SkipNonFiles,
	}
}

// Sync mirrors one source. The error is non-nil only when the index itself
// could not be obtained; per-entry failures live in the result.
func (s *Syncer) Sync(ctx context.Context, src domain.Source) (*domain.SyncResult, error) {
	index, err := s.Index(ctx, src.BaseURL)
	if err != nil {
		return nil, err
	}

	result := s.SyncAll(ctx, index)
	result.Source = src.Name
	return result, nil
}

// Index fetches the listing and applies the file filter when enabled.
func (s *Syncer) Index(ctx context.Context, baseURL string) (*domain.RemoteIndex, error) {
	index, err := s.FetchIndex(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	if s.skipNonFiles {
		files := FilterFiles(index.Entries)
		if skipped := len(index.Entries) - len(files); skipped > 0 {
			s.log.Debug("Skipping %d non-file links", skipped)
		}
		index.Entries = files
	}
	return index, nil
}

type syncJob struct {
	idx int
	job domain.DownloadJob
}

type syncResult struct {
	idx     int
	outcome domain.DownloadOutcome
}

// SyncAll downloads every index entry once. Failures are recorded per entry
// and never stop the remaining downloads. Outcomes follow index order.
func (s *Syncer) SyncAll(ctx context.Context, index *domain.RemoteIndex) *domain.SyncResult {
	jobs := index.Jobs()
	result := &domain.SyncResult{
		BaseURL:  index.BaseURL,
		Outcomes: make([]domain.DownloadOutcome, len(jobs)),
	}
	if len(jobs) == 0 {
		s.log.Info("Nothing to download")
		return result
	}

	workerCount := min(s.concurrency, len(jobs))

	queue := make(chan syncJob, workerCount)
	results := make(chan syncResult, workerCount)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, queue, results)
		}()
	}

	// Dispatch jobs; entries never handed to a worker are reported as cancelled
	go func() {
		defer close(queue)
		for i, job := range jobs {
			select {
			case <-ctx.Done():
				for j := i; j < len(jobs); j++ {
					results <- syncResult{idx: j, outcome: domain.NewDownloadOutcome(jobs[j], 0, ctx.Err())}
				}
				return
			case queue <- syncJob{idx: i, job: job}:
			}
		}
	}()

	start := time.Now()
	for completed := 0; completed < len(jobs); completed++ {
		res := <-results
		result.Outcomes[res.idx] = res.outcome
		if res.outcome.Err != nil {
			s.log.Error("[FAIL] %s: %v", res.outcome.Name, res.outcome.Err)
		}
	}
	wg.Wait()

	s.log.Info("Synced %d/%d files (%s) in %s, %d failed",
		result.Successes(), len(jobs), humanize.Bytes(uint64(result.Bytes())),
		time.Since(start).Truncate(time.Millisecond), result.Failures())

	return result
}

// worker pulls jobs until the queue is closed
func (s *Syncer) worker(ctx context.Context, queue <-chan syncJob, results chan<- syncResult) {
	for j := range queue {
		n, err := s.download(ctx, j.job)
		results <- syncResult{idx: j.idx, outcome: domain.NewDownloadOutcome(j.job, n, err)}
	}
}

func (s *Syncer) download(ctx context.Context, job domain.DownloadJob) (int64, error) {
	s.log.Info("Downloading %s...", job.Name)

	body, err := s.client.Get(ctx, job.SourceURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := s.sink.Write(ctx, job.Destination, &bodyReader{r: body, url: job.SourceURL})
	if err != nil {
		return 0, err
	}

	s.log.Debug("%s -> %s (%s)", job.SourceURL, s.sink.Location(job.Destination), humanize.Bytes(uint64(n)))
	return n, nil
}

// bodyReader tags read failures as fetch errors for the source URL.
type bodyReader struct {
	r   io.Reader
	url string
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &domain.FetchError{URL: b.url, Err: err}
	}
	return n, err
}
