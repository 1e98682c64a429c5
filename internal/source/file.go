package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nxadm/tail"
	"github.com/oicur0t/logcollect/pkg/models"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	plainExt   = ".jsonl"
	archiveExt = ".jsonl.zst"

	maxLineSize = 1 << 20
)

var parserPool fastjson.ParserPool

// FileClient reads JSON-lines logs from a directory. Each log is
// <name>.jsonl, optionally preceded by a zstd archive <name>.jsonl.zst.
type FileClient struct {
	dir    string
	logger *zap.Logger
}

// NewFileClient creates a client over the logs in dir
func NewFileClient(dir string, logger *zap.Logger) (*FileClient, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open log directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("log directory %s is not a directory", dir)
	}

	return &FileClient{dir: dir, logger: logger}, nil
}

// LogNames lists the logs found in the directory
func (c *FileClient) LogNames(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	seen := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, archiveExt):
			seen[strings.TrimSuffix(name, archiveExt)] = struct{}{}
		case strings.HasSuffix(name, plainExt):
			seen[strings.TrimSuffix(name, plainExt)] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Query scans the archive and the live file of logName
func (c *FileClient) Query(ctx context.Context, logName string, window models.Window, maxLevel models.Level) ([]models.EventRecord, error) {
	if logName == "" || logName == "." || logName == ".." || strings.ContainsAny(logName, `/\`) {
		return nil, fmt.Errorf("invalid log name %q", logName)
	}

	archive := filepath.Join(c.dir, logName+archiveExt)
	plain := filepath.Join(c.dir, logName+plainExt)

	var records []models.EventRecord
	dec := &lineDecoder{
		logName: logName,
		emit: func(rec models.EventRecord, failed bool) {
			if keep(rec, failed, window, maxLevel) {
				records = append(records, rec)
			}
		},
	}

	var found bool
	var modTime time.Time
	if info, err := os.Stat(archive); err == nil {
		found = true
		modTime = info.ModTime()
		if err := readArchive(ctx, archive, dec.decode); err != nil {
			return nil, err
		}
	}
	if info, err := os.Stat(plain); err == nil {
		found = true
		modTime = info.ModTime()
		if err := readPlain(ctx, plain, dec.decode); err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLog, logName)
	}
	dec.finish(modTime)

	c.logger.Debug("Scanned log file",
		zap.String("log", logName),
		zap.Int("records", len(records)))
	return records, nil
}

// Close is a no-op; files are opened per query.
func (c *FileClient) Close() error {
	return nil
}

// readPlain reads a live log file to EOF without following it.
func readPlain(ctx context.Context, path string, fn func(string, error)) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:      false,
		MustExist:   true,
		MaxLineSize: maxLineSize,
		Logger:      tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer t.Cleanup()

	for line := range t.Lines {
		if ctx.Err() != nil {
			go func() {
				for range t.Lines {
				}
			}()
			_ = t.Stop()
			return fmt.Errorf("failed to read %s: %w", path, ctx.Err())
		}
		if line.Err != nil {
			fn("", line.Err)
			continue
		}
		fn(line.Text, nil)
	}

	if err := t.Wait(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// readArchive reads a zstd-compressed log segment.
func readArchive(ctx context.Context, path string, fn func(string, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create zstd reader for %s: %w", path, err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to read %s: %w", path, ctx.Err())
		}
		fn(scanner.Text(), nil)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// lineDecoder turns JSON lines into records. A line without a usable
// timestamp, including one that fails to parse, takes the timestamp of the
// line before it so it lands in the same window as its neighbours. Lines
// ahead of the first timestamp wait for the next one; if the file has none
// they take its modification time. Either way the timestamp is stable
// across cycles, so each such line is collected exactly once.
type lineDecoder struct {
	logName string
	prev    time.Time
	pending []pendingLine
	emit    func(rec models.EventRecord, failed bool)
}

type pendingLine struct {
	rec    models.EventRecord
	failed bool
}

func (d *lineDecoder) decode(text string, lineErr error) {
	text = strings.TrimRight(text, "\r")
	if lineErr == nil && strings.TrimSpace(text) == "" {
		return
	}

	rec := models.EventRecord{LogName: d.logName, Level: models.LevelUnknown}
	if lineErr != nil {
		rec.Body = models.RenderFailure(lineErr)
		d.add(rec, true)
		return
	}

	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.Parse(text)
	if err != nil {
		rec.Body = models.RenderFailure(err)
		d.add(rec, true)
		return
	}

	rec.ID = v.GetInt64("id")
	rec.Provider = string(v.GetStringBytes("provider"))
	rec.Level = jsonLevel(v.Get("level"))
	rec.Body = jsonBody(v)

	if ts, ok := jsonTime(v); ok {
		d.prev = ts
		d.flush(ts)
		rec.CreatedAt = ts
		d.emit(rec, false)
		return
	}
	d.add(rec, false)
}

// add emits an undated record at the previous timestamp, or holds it until
// one is known.
func (d *lineDecoder) add(rec models.EventRecord, failed bool) {
	if d.prev.IsZero() {
		d.pending = append(d.pending, pendingLine{rec: rec, failed: failed})
		return
	}
	rec.CreatedAt = d.prev
	d.emit(rec, failed)
}

func (d *lineDecoder) flush(at time.Time) {
	for _, pl := range d.pending {
		pl.rec.CreatedAt = at
		d.emit(pl.rec, pl.failed)
	}
	d.pending = nil
}

// finish releases lines still waiting for a timestamp.
func (d *lineDecoder) finish(fallback time.Time) {
	d.flush(models.CreatedAtOrNow(fallback))
}

func jsonTime(v *fastjson.Value) (time.Time, bool) {
	tv := v.Get("time")
	if tv == nil {
		tv = v.Get("timestamp")
	}
	if tv == nil {
		return time.Time{}, false
	}

	switch tv.Type() {
	case fastjson.TypeString:
		t, err := parseTimeString(string(tv.GetStringBytes()))
		return t, err == nil
	case fastjson.TypeNumber:
		f, err := tv.Float64()
		return unixTime(f), err == nil
	default:
		return time.Time{}, false
	}
}

func jsonLevel(v *fastjson.Value) models.Level {
	if v == nil {
		return models.LevelUnknown
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		n, err := v.Int64()
		if err != nil {
			return models.LevelUnknown
		}
		return models.LevelFromInt(n)
	case fastjson.TypeString:
		return models.ParseLevel(string(v.GetStringBytes()))
	default:
		return models.LevelUnknown
	}
}

// jsonBody renders the message, or joins the raw data values when there is
// no message.
func jsonBody(v *fastjson.Value) string {
	if msg := v.Get("message"); msg != nil {
		return jsonText(msg)
	}

	data := v.Get("data")
	if data == nil {
		return ""
	}
	obj, err := data.Object()
	if err != nil {
		return jsonText(data)
	}

	var parts []string
	obj.Visit(func(_ []byte, value *fastjson.Value) {
		parts = append(parts, jsonText(value))
	})
	return strings.Join(parts, ", ")
}

func jsonText(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}
