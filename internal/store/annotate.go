package store

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/roach88/expkit/internal/record"
)

// AnnotateFromName tags every raw data of exp whose name contains one of
// values. The first matching value wins; records matching none are left
// untouched. Returns the number of records tagged.
func (s *Store) AnnotateFromName(ctx context.Context, exp *record.Experiment, key string, values []string) (int, error) {
	return s.annotate(ctx, exp, key, func(rd *record.RawData) (string, bool) {
		for _, v := range values {
			if v != "" && strings.Contains(rd.Name, v) {
				return v, true
			}
		}
		return "", false
	})
}

// AnnotateBySeparator tags every raw data of exp with the element at
// position of its payload base name (extension removed) split by separator.
// An out-of-range position yields "".
func (s *Store) AnnotateBySeparator(ctx context.Context, exp *record.Experiment, key, separator string, position int) (int, error) {
	return s.annotate(ctx, exp, key, func(rd *record.RawData) (string, bool) {
		base := filepath.Base(rd.PayloadURI)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		parts := strings.Split(base, separator)
		if position < 0 || position >= len(parts) {
			return "", true
		}
		return parts[position], true
	})
}

func (s *Store) annotate(ctx context.Context, exp *record.Experiment, key string, valueOf func(*record.RawData) (string, bool)) (int, error) {
	ds, err := s.GetDataset(ctx, exp.RawDataset.Location)
	if err != nil {
		return 0, err
	}
	if err := s.SetKey(ctx, exp, key); err != nil {
		return 0, err
	}

	n := 0
	for _, entry := range ds.Entries {
		rd, err := s.readRawData(entry.Location, nil)
		if err != nil {
			return n, err
		}
		value, ok := valueOf(rd)
		if !ok {
			continue
		}
		if err := s.SetTag(ctx, exp, entry.Location, key, value); err != nil {
			return n, err
		}
		n++
	}
	s.log.Debug("raw data annotated", "key", key, "count", n)
	return n, nil
}
