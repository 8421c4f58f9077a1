package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewID() string
}

// Clock supplies the default date stamped on new records.
type Clock interface {
	Now() time.Time
}

// UUIDGenerator generates UUIDv7 identifiers.
// UUIDv7 values sort by creation time, which keeps dataset listings stable
// when inspected by hand.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DateLayout is the layout of the date field on new records.
const DateLayout = "2006-01-02"

// Config configures a Store. Zero values select defaults.
type Config struct {
	// Formats resolves payload formats. Defaults to DefaultFormats().
	Formats *FormatRegistry

	// IDs generates record uuids. Defaults to UUIDGenerator.
	IDs IDGenerator

	// Clock stamps records created without an explicit date.
	Clock Clock

	// Author is used when a create call leaves author empty.
	Author string

	// Logger receives debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store reads and writes experiment documents on the local filesystem.
// A Store is safe for concurrent use.
type Store struct {
	formats *FormatRegistry
	ids     IDGenerator
	clock   Clock
	author  string
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store from cfg.
func New(cfg Config) *Store {
	s := &Store{
		formats: cfg.Formats,
		ids:     cfg.IDs,
		clock:   cfg.Clock,
		author:  cfg.Author,
		log:     cfg.Logger,
		locks:   make(map[string]*sync.Mutex),
	}
	if s.formats == nil {
		s.formats = DefaultFormats()
	}
	if s.ids == nil {
		s.ids = UUIDGenerator{}
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Formats returns the registry used by this store.
func (s *Store) Formats() *FormatRegistry {
	return s.formats
}

// NewID returns a fresh identifier from the store's generator.
func (s *Store) NewID() string {
	return s.ids.NewID()
}

// lock serializes read-modify-write cycles on one document.
// The returned function releases the lock.
func (s *Store) lock(location string) func() {
	s.mu.Lock()
	m, ok := s.locks[location]
	if !ok {
		m = &sync.Mutex{}
		s.locks[location] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *Store) defaults(author, date string) (string, string) {
	if author == "" {
		author = s.author
	}
	if date == "" || date == "now" {
		date = s.clock.Now().Format(DateLayout)
	}
	return author, date
}
