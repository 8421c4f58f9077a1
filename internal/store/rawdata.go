package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/expkit/internal/pathref"
	"github.com/roach88/expkit/internal/record"
)

// ImportRequest describes one payload to import into the raw dataset.
type ImportRequest struct {
	// Source is the payload file to import.
	Source string

	// Name of the data. Defaults to the source base name without extension.
	Name string

	Author string
	Format string
	Date   string
	Tags   map[string]string

	// Copy copies the payload (and its companions) into the experiment tree.
	// Otherwise Source is recorded as an absolute reference.
	Copy bool
}

// ImportRawData imports one payload into the raw dataset of exp, appends it
// to the dataset and unions the tag keys into the experiment vocabulary.
//
// Fails with InvalidFormat for an unknown format, NotFound for a missing
// source and AlreadyExists when the derived document or copied payload
// collides with an existing file.
func (s *Store) ImportRawData(ctx context.Context, exp *record.Experiment, req ImportRequest) (*record.RawData, error) {
	const op = "import raw data"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, ok := s.formats.Lookup(req.Format)
	if !ok {
		return nil, record.Errorf(record.CodeInvalidFormat, op, req.Source, "unsupported format %q", req.Format)
	}
	source, err := filepath.Abs(req.Source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if info, err := os.Stat(source); err != nil || info.IsDir() {
		return nil, record.Errorf(record.CodeNotFound, op, source, "source payload does not exist")
	}

	name := req.Name
	if name == "" {
		base := filepath.Base(source)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	docName := SanitizeName(name)
	if docName == "" {
		return nil, fmt.Errorf("%s: empty data name %q", op, name)
	}

	rawDir := filepath.Dir(exp.RawDataset.Location)
	location := filepath.Join(rawDir, docName+DocSuffix)
	if err := claim(location); err != nil {
		if isExist(err) {
			return nil, record.Errorf(record.CodeAlreadyExists, op, location, "data %q already exists", name)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// discard undoes the claim and any copy when a later step fails.
	var copied []string
	discard := func() {
		os.Remove(location)
		removeFiles(copied)
	}

	payload := source
	if req.Copy {
		copied, err = copyPayload(format, source, rawDir)
		if err != nil {
			os.Remove(location)
			if isExist(err) {
				return nil, record.Errorf(record.CodeAlreadyExists, op, rawDir, "payload %q already exists", filepath.Base(source))
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		payload = copied[0]
	}

	author, date := s.defaults(req.Author, req.Date)
	rd := &record.RawData{
		Data: record.Data{
			UUID:       s.ids.NewID(),
			Location:   location,
			Name:       name,
			Author:     author,
			Date:       date,
			Format:     req.Format,
			PayloadURI: payload,
		},
		Tags: maps.Clone(req.Tags),
	}
	if err := writeDoc(location, rawToDoc(rd, exp.Dir())); err != nil {
		discard()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.appendEntry(ctx, exp.RawDataset.Location, record.Ref{Location: location, UUID: rd.UUID}); err != nil {
		discard()
		return nil, err
	}

	if len(req.Tags) > 0 {
		keys := sortedKeys(req.Tags)
		if err := s.updateExperiment(ctx, exp, func(e *record.Experiment) bool {
			changed := false
			for _, k := range keys {
				if e.AddKey(k) {
					changed = true
				}
			}
			return changed
		}); err != nil {
			return nil, err
		}
	}

	s.log.Debug("raw data imported", "name", name, "location", location, "copy", req.Copy)
	return s.readRawData(location, exp.Keys)
}

// copyPayload copies the main payload and any companions that exist into
// dir and returns the copies, main payload first. A failed copy removes the
// files already copied.
func copyPayload(format Format, source, dir string) ([]string, error) {
	var copied []string
	for i, f := range format.Files(source) {
		if i > 0 {
			if _, err := os.Stat(f); err != nil {
				continue
			}
		}
		dst := filepath.Join(dir, filepath.Base(f))
		if err := copyFile(f, dst); err != nil {
			removeFiles(copied)
			return nil, err
		}
		copied = append(copied, dst)
	}
	return copied, nil
}

func removeFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// ImportDirRequest describes a directory import.
type ImportDirRequest struct {
	Dir string

	// Filter is a regular expression matched against file names. Empty
	// matches every file.
	Filter string

	Author string
	Format string
	Date   string
	Copy   bool

	// DirTagKey, when set, tags every imported record with the base name of
	// Dir under this key.
	DirTagKey string

	// Progress is called after each imported file.
	Progress func(done, total int, name string)
}

// ImportDir imports every regular file of a directory matching the filter,
// in file name order.
func (s *Store) ImportDir(ctx context.Context, exp *record.Experiment, req ImportDirRequest) ([]*record.RawData, error) {
	const op = "import directory"

	filter := regexp.MustCompile("")
	if req.Filter != "" {
		var err error
		if filter, err = regexp.Compile(req.Filter); err != nil {
			return nil, fmt.Errorf("%s: invalid filter: %w", op, err)
		}
	}

	entries, err := os.ReadDir(req.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, record.Errorf(record.CodeNotFound, op, req.Dir, "directory does not exist")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, DocSuffix) {
			continue
		}
		if filter.MatchString(name) {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	var tags map[string]string
	if req.DirTagKey != "" {
		dir, err := filepath.Abs(req.Dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tags = map[string]string{req.DirTagKey: filepath.Base(dir)}
	}

	out := make([]*record.RawData, 0, len(files))
	for i, name := range files {
		rd, err := s.ImportRawData(ctx, exp, ImportRequest{
			Source: filepath.Join(req.Dir, name),
			Author: req.Author,
			Format: req.Format,
			Date:   req.Date,
			Tags:   tags,
			Copy:   req.Copy,
		})
		if err != nil {
			return out, err
		}
		out = append(out, rd)
		if req.Progress != nil {
			req.Progress(i+1, len(files), name)
		}
	}
	return out, nil
}

// GetRawData reads the raw data document at location. Tags absent from the
// document but declared by the owning experiment are reported as "".
func (s *Store) GetRawData(ctx context.Context, location string) (*record.RawData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readRawData(location, s.experimentKeys(location))
}

// SaveRawData rewrites the raw data document with exactly the tags held by
// rd. Use SetTag to change one tag without persisting read-time defaults.
func (s *Store) SaveRawData(ctx context.Context, rd *record.RawData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(rd.Location)
	defer unlock()
	if err := writeDoc(rd.Location, rawToDoc(rd, s.experimentDir(rd.Location))); err != nil {
		return fmt.Errorf("save raw data: %w", err)
	}
	return nil
}

// SetTag sets one tag on the raw data at location and adds key to the
// experiment vocabulary. Only persisted tags are rewritten.
func (s *Store) SetTag(ctx context.Context, exp *record.Experiment, location, key, value string) error {
	const op = "set tag"
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%s: empty key", op)
	}

	if err := func() error {
		unlock := s.lock(location)
		defer unlock()

		var doc dataDoc
		if err := readDoc(op, location, &doc); err != nil {
			return err
		}
		if record.Kind(doc.Kind) != record.KindRaw {
			return record.Errorf(record.CodeNotFound, op, location, "not a raw data document")
		}
		if doc.Tags == nil {
			doc.Tags = make(map[string]string)
		}
		doc.Tags[key] = value
		if err := writeDoc(location, &doc); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}(); err != nil {
		return err
	}

	return s.SetKey(ctx, exp, key)
}

// experimentKeys returns the vocabulary of the experiment owning location,
// or nil if it cannot be found.
func (s *Store) experimentKeys(location string) []string {
	expLoc, ok := experimentFor(location)
	if !ok {
		return nil
	}
	var doc experimentDoc
	if err := readDoc("read experiment keys", expLoc, &doc); err != nil {
		s.log.Debug("experiment keys unavailable", "location", location, "error", err)
		return nil
	}
	return doc.Keys
}

func (s *Store) experimentDir(location string) string {
	if expLoc, ok := experimentFor(location); ok {
		return filepath.Dir(expLoc)
	}
	return filepath.Dir(location)
}

func (s *Store) readRawData(location string, keys []string) (*record.RawData, error) {
	const op = "get raw data"
	var doc dataDoc
	if err := readDoc(op, location, &doc); err != nil {
		return nil, err
	}
	if doc.UUID == "" || record.Kind(doc.Kind) != record.KindRaw {
		return nil, record.Errorf(record.CodeNotFound, op, location, "not a raw data document")
	}
	rd := rawFromDoc(&doc, location)
	for _, k := range keys {
		if _, ok := rd.Tags[k]; !ok {
			rd.Tags[k] = ""
		}
	}
	return rd, nil
}

// rawToDoc converts rd for persistence. Payloads inside root are stored
// relative to the document; payloads outside stay absolute.
func rawToDoc(rd *record.RawData, root string) *dataDoc {
	payload := rd.PayloadURI
	if pathref.Within(payload, root) {
		payload = rel(payload, rd.Location)
	}
	tags := maps.Clone(rd.Tags)
	if tags == nil {
		tags = map[string]string{}
	}
	return &dataDoc{
		UUID:       rd.UUID,
		Kind:       string(record.KindRaw),
		Name:       rd.Name,
		Author:     rd.Author,
		Date:       rd.Date,
		Format:     rd.Format,
		PayloadURI: filepath.ToSlash(payload),
		Tags:       tags,
	}
}

func rawFromDoc(doc *dataDoc, location string) *record.RawData {
	tags := maps.Clone(doc.Tags)
	if tags == nil {
		tags = make(map[string]string)
	}
	return &record.RawData{
		Data: dataFromDoc(doc, location),
		Tags: tags,
	}
}

func dataFromDoc(doc *dataDoc, location string) record.Data {
	return record.Data{
		UUID:       doc.UUID,
		Location:   location,
		Name:       doc.Name,
		Author:     doc.Author,
		Date:       doc.Date,
		Format:     doc.Format,
		PayloadURI: abs(doc.PayloadURI, location),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
