package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
	"go.uber.org/zap"
)

// WriteError is an I/O failure on an output file.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Options configures a Writer. Changes apply from the next WriteBatch.
type Options struct {
	Policy    Policy
	Formatter Formatter
}

// BatchResult summarises one WriteBatch call.
type BatchResult struct {
	Written   int
	Rotations int
	Pruned    int
	Files     []string
}

// rotationState is owned by Writer and only touched under Writer.mu.
type rotationState struct {
	openPath string
	file     *os.File
	buf      *bufio.Writer

	// size is the byte count of sizePath, which may be closed between batches.
	size     int64
	sizePath string
}

// Writer appends formatted records to the output file set, applying the
// rotation policy record by record.
type Writer struct {
	mu     sync.Mutex
	opts   Options
	pruner *Pruner
	state  rotationState
	logger *zap.Logger
}

// NewWriter creates a new output writer
func NewWriter(opts Options, logger *zap.Logger) *Writer {
	return &Writer{
		opts:   opts,
		pruner: NewPruner(logger),
		logger: logger,
	}
}

// Configure replaces the writer options.
func (w *Writer) Configure(opts Options) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if opts.Policy.Path != w.opts.Policy.Path || opts.Policy.Mode != w.opts.Policy.Mode {
		if err := w.closeFile(); err != nil {
			w.logger.Warn("Failed to close output file on reconfigure", zap.Error(err))
		}
		w.state.sizePath = ""
	}
	w.opts = opts
}

// WriteBatch writes records in order. The first failure stops the batch;
// rows already written stay on disk.
func (w *Writer) WriteBatch(records []models.EventRecord) (BatchResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var res BatchResult
	if len(records) == 0 {
		return res, nil
	}

	for _, rec := range records {
		if err := w.prepare(rec.CreatedAt, &res); err != nil {
			w.abort()
			return res, err
		}

		line := w.opts.Formatter.Record(rec)
		if _, err := w.state.buf.WriteString(line); err != nil {
			path := w.state.openPath
			w.abort()
			return res, &WriteError{Op: "write", Path: path, Err: err}
		}
		w.state.size += int64(len(line))
		res.Written++
	}

	if err := w.closeFile(); err != nil {
		w.abort()
		return res, err
	}
	return res, nil
}

// Close flushes and closes the open file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

func (w *Writer) prepare(createdAt time.Time, res *BatchResult) error {
	policy := w.opts.Policy
	target := policy.TargetPath(createdAt)

	if w.state.file == nil || target != w.state.openPath {
		if err := w.closeFile(); err != nil {
			return err
		}

		created, err := w.open(target)
		if err != nil {
			return err
		}
		res.Files = append(res.Files, target)

		if created {
			if policy.Mode.Dated() {
				removed, err := w.pruner.PruneDated(policy.Path, policy.Mode, policy.Keep)
				res.Pruned += len(removed)
				if err != nil {
					return err
				}
			}
			return nil
		}
	}

	if policy.Mode == ModeSize && policy.MaxSize > 0 && w.state.size > policy.MaxSize {
		return w.rotate(res)
	}
	return nil
}

func (w *Writer) rotate(res *BatchResult) error {
	path := w.state.openPath
	size := w.state.size
	if err := w.closeFile(); err != nil {
		return err
	}

	deleted, err := w.pruner.RotateNumbered(path, w.opts.Policy.Keep)
	res.Pruned += deleted
	if err != nil {
		return err
	}

	w.state.sizePath = ""
	if _, err := w.open(path); err != nil {
		return err
	}
	res.Rotations++

	w.logger.Info("Rotated output file",
		zap.String("path", path),
		zap.Int64("size", size),
		zap.Int64("max_size", w.opts.Policy.MaxSize),
		zap.Int("keep", w.opts.Policy.Keep))
	return nil
}

// open opens path for appending and reports whether it had to be created.
// A new file gets the header row; an existing file is stat'ed once so size
// accounting starts from what is already on disk.
func (w *Writer) open(path string) (bool, error) {
	info, err := os.Stat(path)
	created := os.IsNotExist(err)
	if err != nil && !created {
		return false, &WriteError{Op: "stat", Path: path, Err: err}
	}

	if created {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return false, &WriteError{Op: "create directory", Path: dir, Err: err}
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, &WriteError{Op: "open", Path: path, Err: err}
	}

	w.state.file = f
	w.state.buf = bufio.NewWriterSize(f, 64*1024)
	w.state.openPath = path

	if created {
		header := w.opts.Formatter.Header()
		if _, err := w.state.buf.WriteString(header); err != nil {
			return false, &WriteError{Op: "write header", Path: path, Err: err}
		}
		w.state.size = int64(len(header))
		w.state.sizePath = path
		w.logger.Info("Created output file", zap.String("path", path))
		return true, nil
	}

	if w.state.sizePath != path {
		w.state.size = info.Size()
		w.state.sizePath = path
	}
	return false, nil
}

func (w *Writer) closeFile() error {
	if w.state.file == nil {
		return nil
	}

	path := w.state.openPath
	flushErr := w.state.buf.Flush()
	closeErr := w.state.file.Close()
	w.state.file = nil
	w.state.buf = nil
	w.state.openPath = ""

	if flushErr != nil {
		return &WriteError{Op: "write", Path: path, Err: flushErr}
	}
	if closeErr != nil {
		return &WriteError{Op: "close", Path: path, Err: closeErr}
	}
	return nil
}

// abort drops the open handle after a failure so the next batch starts
// clean and re-reads the on-disk size.
func (w *Writer) abort() {
	if w.state.file != nil {
		_ = w.state.buf.Flush()
		_ = w.state.file.Close()
	}
	w.state = rotationState{}
}
