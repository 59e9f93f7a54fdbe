package supplier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/iotistic/supervisor/pkg/telemetry"
)

// FileSource serves targets from a local document file, watched for changes.
// The watch covers the file's directory, not the file itself, because
// editors and config management tools replace files atomically via rename.
type FileSource struct {
	path      string
	parser    *Parser
	handler   Handler
	onRemoved func()
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithFileMetrics attaches a metrics collector.
func WithFileMetrics(m *telemetry.Metrics) FileSourceOption {
	return func(f *FileSource) { f.metrics = m }
}

// WithFileLogger sets the logger.
func WithFileLogger(logger zerolog.Logger) FileSourceOption {
	return func(f *FileSource) { f.logger = logger }
}

// WithOnRemoved registers a callback for when the target file disappears.
func WithOnRemoved(fn func()) FileSourceOption {
	return func(f *FileSource) { f.onRemoved = fn }
}

// NewFileSource creates a file-backed target source.
func NewFileSource(path string, parser *Parser, handler Handler, opts ...FileSourceOption) *FileSource {
	f := &FileSource{
		path:    path,
		parser:  parser,
		handler: handler,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "target-file").Str("path", path).Logger()
	return f
}

// Load reads and delivers the target file once. A missing file is not an
// error; the source simply has nothing to say yet.
func (f *FileSource) Load(ctx context.Context) error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		f.metrics.RecordTargetFetch("file", "error")
		return fmt.Errorf("failed to read target file: %w", err)
	}

	target, err := f.parser.Parse(data, "file")
	if err != nil {
		f.metrics.RecordTargetFetch("file", "invalid")
		return fmt.Errorf("target file rejected: %w", err)
	}

	f.metrics.RecordTargetFetch("file", "success")
	f.handler.HandleTarget(target)
	return nil
}

// Run watches the file until the context is cancelled. Change bursts are
// debounced; an invalid file is logged and the last valid target stands.
func (f *FileSource) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	f.logger.Info().Msg("Watching target file")

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if _, statErr := os.Stat(f.path); os.IsNotExist(statErr) {
					f.logger.Info().Msg("Target file removed")
					if f.onRemoved != nil {
						f.onRemoved()
					}
					continue
				}
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := f.Load(ctx); err != nil {
					f.logger.Warn().Err(err).Msg("Target file reload failed, keeping last valid target")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
