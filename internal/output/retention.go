package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Pruner removes or renumbers superseded output files.
type Pruner struct {
	logger *zap.Logger
}

// NewPruner creates a new retention pruner
func NewPruner(logger *zap.Logger) *Pruner {
	return &Pruner{logger: logger}
}

// PruneDated keeps the newest keep files of the dated set derived from
// basePath and deletes the rest, oldest first. keep <= 0 disables pruning.
func (p *Pruner) PruneDated(basePath string, mode Mode, keep int) ([]string, error) {
	if keep <= 0 || !mode.Dated() {
		return nil, nil
	}

	matches, err := datedSiblings(basePath, mode)
	if err != nil {
		return nil, &WriteError{Op: "list", Path: filepath.Dir(basePath), Err: err}
	}
	if len(matches) <= keep {
		return nil, nil
	}

	var removed []string
	var errs []error
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			errs = append(errs, &WriteError{Op: "delete", Path: old, Err: err})
			continue
		}
		removed = append(removed, old)
		p.logger.Info("Pruned output file", zap.String("path", old), zap.Int("keep", keep))
	}
	return removed, errors.Join(errs...)
}

// datedSiblings lists files named <base><digits><ext> in the directory of
// basePath, sorted oldest first. The prefix/suffix pass selects candidates,
// the fixed-width pattern then rejects anything that merely shares the prefix.
func datedSiblings(basePath string, mode Mode) ([]string, error) {
	dir := filepath.Dir(basePath)
	base, ext := splitExt(filepath.Base(basePath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	pattern := regexp.MustCompile(fmt.Sprintf(`(?i)^%s\d{%d}%s$`,
		regexp.QuoteMeta(base), mode.suffixDigits(), regexp.QuoteMeta(ext)))

	var matches []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !hasPrefixFold(name, base) || !hasSuffixFold(name, ext) {
			continue
		}
		if pattern.MatchString(name) {
			matches = append(matches, filepath.Join(dir, name))
		}
	}

	sort.Strings(matches)
	return matches, nil
}

// RotateNumbered shifts <base>-<n><ext> to <base>-<n+1><ext> from the
// highest n down, then moves the current file to <base>-1<ext>. With
// keep > 0 the set holds at most keep files including the current one;
// anything that would land beyond that is deleted instead.
func (p *Pruner) RotateNumbered(path string, keep int) (int, error) {
	highest := 0
	for n := 1; ; n++ {
		if _, err := os.Stat(NumberedPath(path, n)); err != nil {
			break
		}
		highest = n
	}

	deleted := 0
	for n := highest; n >= 1; n-- {
		src := NumberedPath(path, n)
		if keep > 0 && n+1 >= keep {
			if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
				return deleted, &WriteError{Op: "delete", Path: src, Err: err}
			}
			deleted++
			p.logger.Debug("Deleted rotated file", zap.String("path", src))
			continue
		}
		if err := os.Rename(src, NumberedPath(path, n+1)); err != nil {
			return deleted, &WriteError{Op: "rename", Path: src, Err: err}
		}
	}

	if keep == 1 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return deleted, &WriteError{Op: "delete", Path: path, Err: err}
		}
		return deleted + 1, nil
	}

	if err := os.Rename(path, NumberedPath(path, 1)); err != nil && !os.IsNotExist(err) {
		return deleted, &WriteError{Op: "rename", Path: path, Err: err}
	}
	return deleted, nil
}

// NumberedPath returns <base>-<n><ext> for path <base><ext>.
func NumberedPath(path string, n int) string {
	base, ext := splitExt(path)
	return base + "-" + strconv.Itoa(n) + ext
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
