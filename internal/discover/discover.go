package discover

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
)

// IGNORE_PATTERNS are directory names to skip during discovery.
var IGNORE_PATTERNS = map[string]bool{
	".cache": true, ".git": true, ".hg": true, ".idea": true,
	".svn": true, ".vscode": true, "node_modules": true,
	"external": true, "execroot": true, "vendor": true,
}

// binaryExts are extensions of varint-delimited binary event files.
var binaryExts = map[string]bool{
	".bep": true, ".pb": true, ".binpb": true,
}

// jsonExts are extensions of newline-delimited JSON event files. A JSON
// file only counts when its name mentions the build event protocol, so
// unrelated JSON in the tree is left alone.
var jsonExts = map[string]bool{
	".json": true, ".jsonl": true, ".ndjson": true,
}

var compressionSuffixes = []string{".gz", ".zst", ".zstd"}

// FileInfo represents a discovered BEP file.
type FileInfo struct {
	Path    string     // absolute path
	RelPath string     // relative to the walked root
	Format  bep.Format // framing inferred from the name
	Size    int64
	ModTime time.Time
}

// Options configures file discovery.
type Options struct {
	IgnoreFile string // path to .bepignore file (optional)
}

// IsBEPFile reports whether name looks like a build event file.
func IsBEPFile(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	for _, suffix := range compressionSuffixes {
		base = strings.TrimSuffix(base, suffix)
	}
	ext := filepath.Ext(base)
	if binaryExts[ext] {
		return true
	}
	if !jsonExts[ext] {
		return false
	}
	stem := strings.TrimSuffix(base, ext)
	return strings.Contains(stem, "bep") || strings.Contains(stem, "build_event")
}

// shouldSkipDir returns true if the directory should be skipped during discovery.
func shouldSkipDir(name, rel string, extraIgnore []string) bool {
	if IGNORE_PATTERNS[name] {
		return true
	}
	for _, pattern := range extraIgnore {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// Discover walks root and returns all BEP files under it. A root that is
// itself a file is returned as the only result when it looks like a BEP
// file.
func Discover(ctx context.Context, root string, opts *Options) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Load .bepignore patterns if present
	var extraIgnore []string
	if opts != nil && opts.IgnoreFile != "" {
		extraIgnore, _ = loadIgnoreFile(opts.IgnoreFile)
	} else {
		extraIgnore, _ = loadIgnoreFile(filepath.Join(root, ".bepignore"))
	}

	var files []FileInfo

	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if path == root {
				return walkErr
			}
			return filepath.SkipDir
		}

		rel, _ := filepath.Rel(root, path)

		if info.IsDir() {
			if path != root && shouldSkipDir(info.Name(), rel, extraIgnore) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || !IsBEPFile(info.Name()) {
			return nil
		}
		if rel == "." {
			rel = info.Name()
		}
		files = append(files, FileInfo{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Format:  bep.FormatFromName(path),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})

	return files, err
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
