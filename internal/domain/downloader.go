package domain

import (
	"errors"
)

// Source is one known remote tablebase directory.
type Source struct {
	Name    string `json:"name" mapstructure:"name"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// RemoteIndex is the list of resource names scraped from an index document,
// in document order.
type RemoteIndex struct {
	BaseURL string
	Entries []string
}

// Jobs derives one DownloadJob per entry.
func (idx *RemoteIndex) Jobs() []DownloadJob {
	jobs := make([]DownloadJob, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		jobs = append(jobs, DownloadJob{
			Name:        e,
			SourceURL:   idx.BaseURL + e,
			Destination: e,
		})
	}
	return jobs
}

type DownloadJob struct {
	Name        string
	SourceURL   string
	Destination string
}

// DownloadOutcome is the result of a single download attempt.
type DownloadOutcome struct {
	Name      string    `json:"name"`
	SourceURL string    `json:"source_url"`
	Bytes     int64     `json:"bytes"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`

	Err error `json:"-"`
}

func NewDownloadOutcome(job DownloadJob, n int64, err error) DownloadOutcome {
	o := DownloadOutcome{
		Name:      job.Name,
		SourceURL: job.SourceURL,
		Bytes:     n,
		Err:       err,
	}
	if err != nil {
		o.Kind = KindOf(err)
		o.Error = err.Error()
	}
	return o
}

// SyncResult holds one outcome per index entry, in index order.
type SyncResult struct {
	Source   string            `json:"source"`
	BaseURL  string            `json:"base_url"`
	Outcomes []DownloadOutcome `json:"outcomes"`
}

func (r *SyncResult) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (r *SyncResult) Successes() int {
	return len(r.Outcomes) - r.Failures()
}

func (r *SyncResult) Bytes() int64 {
	var total int64
	for _, o := range r.Outcomes {
		total += o.Bytes
	}
	return total
}

func (r *SyncResult) Failed() []DownloadOutcome {
	var failed []DownloadOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

func (r *SyncResult) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
