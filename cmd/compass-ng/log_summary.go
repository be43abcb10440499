package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"compass-ng/internal/pipeline"
	"compass-ng/internal/replay"
)

type logSummary struct {
	Segments    int
	Samples     int
	MaxDuration time.Duration
	KindCounts  map[pipeline.Kind]int
	// Resolved counts samples the pipeline could turn into a heading.
	Resolved int
}

func summarizeSampleLog(records []replay.Record) (logSummary, error) {
	s := logSummary{KindCounts: map[pipeline.Kind]int{}}
	if len(records) == 0 {
		return s, nil
	}

	origin := time.Duration(0)
	hasSamples := false
	segments := 0

	// A throwaway pipeline checks that each sample resolves.
	check, err := pipeline.New(pipeline.Config{})
	if err != nil {
		return s, err
	}

	for _, r := range records {
		if r.Sample == nil {
			segments++
			origin = r.At
			continue
		}
		hasSamples = true

		s.Samples++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}
		s.KindCounts[r.Sample.Kind]++
		if _, err := check.Process(*r.Sample); err == nil {
			s.Resolved++
		}
	}
	if segments == 0 && hasSamples {
		segments = 1
	}
	s.Segments = segments
	return s, nil
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.Load(path)
	if err != nil {
		return err
	}
	s, err := summarizeSampleLog(recs)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "samples: %d\n", s.Samples)
	fmt.Fprintf(w, "resolved: %d\n", s.Resolved)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	kinds := make([]string, 0, len(s.KindCounts))
	for k := range s.KindCounts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Fprintf(w, "kind_counts:\n")
	for _, k := range kinds {
		fmt.Fprintf(w, "  %s: %d\n", k, s.KindCounts[pipeline.Kind(k)])
	}
	return nil
}
