package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeType is the kind of source a change touched.
type ChangeType int

const (
	ChangeTypeModel ChangeType = iota
	ChangeTypePolicy
	ChangeTypeEntities
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeModel:
		return "model"
	case ChangeTypePolicy:
		return "policy"
	case ChangeTypeEntities:
		return "entities"
	default:
		return "unknown"
	}
}

// ChangeEvent is a batch of changed paths of one type.
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// Sources lists what a FileWatcher watches. Entries may be files or
// directories; directories are watched recursively.
type Sources struct {
	Model    string
	Policies []string
	Entities []string
}

type root struct {
	path string
	dir  bool
	typ  ChangeType
	exts []string
}

// FileWatcher reports changes to model, policy and entity sources.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	roots   []root
	events  chan ChangeEvent
	logger  zerolog.Logger
}

// NewFileWatcher creates a watcher for sources. Nothing is watched until Start.
func NewFileWatcher(sources Sources, logger zerolog.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		events:  make(chan ChangeEvent, 100),
		logger:  logger.With().Str("component", "watcher").Logger(),
	}

	add := func(path string, typ ChangeType, exts ...string) error {
		if path == "" {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		fw.roots = append(fw.roots, root{path: abs, dir: info.IsDir(), typ: typ, exts: exts})
		return nil
	}

	if err := add(sources.Model, ChangeTypeModel); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	for _, p := range sources.Policies {
		if err := add(p, ChangeTypePolicy, ".rego", ".json"); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}
	for _, p := range sources.Entities {
		if err := add(p, ChangeTypeEntities, ".cue"); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	return fw, nil
}

// Start begins watching. Events stop and the channel closes when ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) error {
	dirs := make(map[string]bool)
	for _, r := range fw.roots {
		if !r.dir {
			// Editors often replace files, so watch the parent directory.
			dirs[filepath.Dir(r.path)] = true
			continue
		}
		err := filepath.WalkDir(r.path, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				dirs[path] = true
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", r.path, err)
		}
	}

	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	fw.logger.Info().Int("directories", len(dirs)).Msg("Started watching sources")

	go fw.processEvents(ctx)
	return nil
}

// Events returns the channel of raw change events, one per file system event.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// classify returns the type of source path belongs to.
func (fw *FileWatcher) classify(path string) (ChangeType, bool) {
	for _, r := range fw.roots {
		if !r.dir {
			if path == r.path {
				return r.typ, true
			}
			continue
		}
		if !strings.HasPrefix(path, r.path+string(filepath.Separator)) {
			continue
		}
		for _, ext := range r.exts {
			if strings.HasSuffix(path, ext) {
				return r.typ, true
			}
		}
	}
	return 0, false
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}

			// New directories inside a watched tree are watched too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.watcher.Add(event.Name); err != nil {
						fw.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
					continue
				}
			}

			typ, ok := fw.classify(event.Name)
			if !ok {
				continue
			}
			fw.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Stringer("type", typ).Msg("Source changed")

			select {
			case fw.events <- ChangeEvent{Type: typ, Paths: []string{event.Name}, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Debouncer batches rapid change events. A batch is emitted once the input
// has been quiet for the quiet period, or once maxWait has passed since the
// first event of the batch.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a new event debouncer.
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	if maxWait < quietPeriod {
		maxWait = quietPeriod
	}
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing.
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// Output returns the channel of debounced events. Within a flush, model
// changes come first, then policies, then entities. The channel closes when
// the input closes or ctx is done.
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	accumulated := make(map[ChangeType]map[string]bool)
	var quiet, deadline <-chan time.Time

	// flush reports false when ctx ended before every batch was delivered.
	flush := func() bool {
		for _, typ := range []ChangeType{ChangeTypeModel, ChangeTypePolicy, ChangeTypeEntities} {
			set := accumulated[typ]
			if len(set) == 0 {
				continue
			}
			paths := make([]string, 0, len(set))
			for p := range set {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			select {
			case d.output <- ChangeEvent{Type: typ, Paths: paths, Timestamp: time.Now()}:
			case <-ctx.Done():
				return false
			}
		}
		accumulated = make(map[ChangeType]map[string]bool)
		quiet, deadline = nil, nil
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			if accumulated[event.Type] == nil {
				accumulated[event.Type] = make(map[string]bool)
			}
			for _, p := range event.Paths {
				accumulated[event.Type][p] = true
			}
			quiet = time.After(d.quietPeriod)
			if deadline == nil {
				deadline = time.After(d.maxWait)
			}

		case <-quiet:
			if !flush() {
				return
			}

		case <-deadline:
			if !flush() {
				return
			}
		}
	}
}
