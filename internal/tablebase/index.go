package tablebase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/SzilBalazs/bctools/internal/domain"
)

// IndexFileName is the name the raw index document is saved under.
const IndexFileName = "index.html"

// hrefPattern matches a link target, quoted or not, up to the next quote,
// space or '>'.
var hrefPattern = regexp.MustCompile(`href=['"]?([^'" >]+)`)

// ParseIndex extracts the first href of every line starting with "<a",
// in document order. Lines without a match contribute nothing.
func ParseIndex(doc string) []string {
	entries := []string{}
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "<a") {
			continue
		}
		m := hrefPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		entries = append(entries, m[1])
	}
	return entries
}

// FilterFiles drops entries that cannot be a flat file in the listed
// directory: parent and self links, sort query links, fragments, absolute
// URLs and anything with a path separator.
func FilterFiles(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		switch {
		case e == "", e == ".", e == "..":
			continue
		case strings.HasPrefix(e, "?"), strings.HasPrefix(e, "#"):
			continue
		case strings.ContainsAny(e, `/\:`):
			continue
		}
		out = append(out, e)
	}
	return out
}

// FetchIndex downloads the index document at baseURL and parses it.
func (s *Syncer) FetchIndex(ctx context.Context, baseURL string) (*domain.RemoteIndex, error) {
	s.log.Info("Downloading %s index...", baseURL)

	body, err := s.client.Get(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := io.ReadAll(body)
	if err != nil {
		return nil, &domain.FetchError{URL: baseURL, Err: fmt.Errorf("read index: %w", err)}
	}

	if !utf8.Valid(doc) || bytes.IndexByte(doc, 0) >= 0 {
		return nil, &domain.IndexFormatError{URL: baseURL, Err: errors.New("document is not text")}
	}

	if s.saveIndex {
		// Best effort copy for debugging a listing; never fails the run
		if _, err := s.sink.Write(ctx, IndexFileName, bytes.NewReader(doc)); err != nil {
			s.log.Warn("could not save index document: %v", err)
		}
	}

	s.log.Info("Indexing files...")
	entries := ParseIndex(string(doc))
	s.log.Info("Found %d files!", len(entries))

	return &domain.RemoteIndex{BaseURL: baseURL, Entries: entries}, nil
}
