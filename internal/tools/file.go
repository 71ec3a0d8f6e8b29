package tools

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
)

// maxListEntries caps directory listings and search results so one
// call cannot return an unbounded payload.
const maxListEntries = 1000

// FileToolset implements sandboxed file operations.
type FileToolset struct {
	maxFileSize int64
	logger      log.Logger
}

// NewFileToolset creates the file toolset. maxFileSize bounds reads
// and writes in bytes.
func NewFileToolset(maxFileSize int64, logger log.Logger) *FileToolset {
	return &FileToolset{maxFileSize: maxFileSize, logger: logger}
}

type readFileInput struct {
	Path string `json:"path"`
}

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

type listFilesInput struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

type searchFilesInput struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	MaxResults int    `json:"max_results,omitempty"`
}

type searchContentInput struct {
	Query         string   `json:"query"`
	Path          string   `json:"path"`
	Extensions    []string `json:"extensions,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
}

type contentMatch struct {
	File  string `json:"file"`
	Lines []int  `json:"lines"`
	Count int    `json:"count"`
}

type fileInfoInput struct {
	Path string `json:"path"`
}

type deleteFileInput struct {
	Path string `json:"path"`
}

type fileEntry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
}

// Register adds the file tools.
func (t *FileToolset) Register(reg *dispatch.Registry) error {
	pathOnly := gate.Policy{PathFields: []string{"path"}}

	if err := add(reg, "file_read",
		"Read a text file from the sandbox.",
		gate.Policy{PathFields: []string{"path"}, CheckDiskSize: true},
		t.readFile); err != nil {
		return err
	}
	if err := add(reg, "file_write",
		"Write or append a text file inside the sandbox.",
		gate.Policy{PathFields: []string{"path"}, ContentField: "content", CheckExtension: true},
		t.writeFile); err != nil {
		return err
	}
	if err := add(reg, "file_list",
		"List directory entries inside the sandbox.",
		pathOnly, t.listFiles); err != nil {
		return err
	}
	if err := add(reg, "file_search",
		"Find files by name pattern under a sandbox directory.",
		pathOnly, t.searchFiles); err != nil {
		return err
	}
	if err := add(reg, "file_search_content",
		"Search file contents for a substring under a sandbox directory.",
		pathOnly, t.searchContent); err != nil {
		return err
	}
	if err := add(reg, "file_info",
		"Stat a file or directory inside the sandbox.",
		pathOnly, t.fileInfo); err != nil {
		return err
	}
	return add(reg, "file_delete",
		"Delete a single file inside the sandbox.",
		pathOnly, t.deleteFile)
}

func (t *FileToolset) readFile(_ context.Context, in readFileInput) (any, error) {
	info, err := os.Stat(in.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dispatch.Errorf(dispatch.KindIOError, "file %s does not exist", filepath.Base(in.Path))
		}
		return nil, dispatch.WrapErr(dispatch.KindIOError, "file is not readable", err)
	}
	if info.IsDir() {
		return nil, dispatch.Errorf(dispatch.KindIOError, "%s is a directory, use file_list", filepath.Base(in.Path))
	}
	// The gate checked the size before dispatch; re-check here so a
	// file grown in between still cannot blow the limit.
	if info.Size() > t.maxFileSize {
		return nil, dispatch.Errorf(gate.KindSizeExceeded, "file is %d bytes, limit is %d", info.Size(), t.maxFileSize)
	}

	f, err := os.Open(in.Path)
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "opening file failed", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, t.maxFileSize))
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "reading file failed", err)
	}

	return map[string]any{
		"path":     in.Path,
		"size":     len(data),
		"modified": info.ModTime(),
		"content":  string(data),
	}, nil
}

func (t *FileToolset) writeFile(_ context.Context, in writeFileInput) (any, error) {
	if err := os.MkdirAll(filepath.Dir(in.Path), 0o750); err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "creating parent directory failed", err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(in.Path, flags, 0o640)
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "opening file for write failed", err)
	}

	n, err := f.WriteString(in.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "writing file failed", err)
	}

	t.logger.Debug("file written", "path", in.Path, "bytes", n, "append", in.Append)
	return map[string]any{
		"path":          in.Path,
		"bytes_written": n,
		"appended":      in.Append,
	}, nil
}

func (t *FileToolset) listFiles(_ context.Context, in listFilesInput) (any, error) {
	root := in.Path
	if root == "" {
		return nil, dispatch.Errorf(dispatch.KindIOError, "path is required")
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dispatch.Errorf(dispatch.KindIOError, "directory %s does not exist", filepath.Base(root))
		}
		return nil, dispatch.WrapErr(dispatch.KindIOError, "directory is not readable", err)
	}
	if !info.IsDir() {
		return nil, dispatch.Errorf(dispatch.KindIOError, "%s is not a directory", filepath.Base(root))
	}

	var entries []fileEntry
	truncated := false

	if in.Recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, skip
			}
			if path == root {
				return nil
			}
			if len(entries) >= maxListEntries {
				truncated = true
				return fs.SkipAll
			}
			entries = append(entries, dirEntryToFileEntry(path, d))
			return nil
		})
		if err != nil {
			return nil, dispatch.WrapErr(dispatch.KindIOError, "walking directory failed", err)
		}
	} else {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			return nil, dispatch.WrapErr(dispatch.KindIOError, "listing directory failed", err)
		}
		for _, d := range dirEntries {
			if len(entries) >= maxListEntries {
				truncated = true
				break
			}
			entries = append(entries, dirEntryToFileEntry(filepath.Join(root, d.Name()), d))
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return map[string]any{
		"path":      root,
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	}, nil
}

func (t *FileToolset) searchFiles(_ context.Context, in searchFilesInput) (any, error) {
	if in.Pattern == "" {
		return nil, dispatch.Errorf(dispatch.KindIOError, "pattern is required")
	}
	if _, err := filepath.Match(in.Pattern, "probe"); err != nil {
		return nil, dispatch.Errorf(dispatch.KindIOError, "invalid pattern %q", in.Pattern)
	}

	root := in.Path
	if root == "" {
		return nil, dispatch.Errorf(dispatch.KindIOError, "path is required")
	}
	limit := in.MaxResults
	if limit <= 0 || limit > maxListEntries {
		limit = 100
	}

	var matches []fileEntry
	truncated := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		ok, _ := filepath.Match(in.Pattern, d.Name())
		if !ok {
			// Also match case-insensitively, which is what callers
			// searching by name usually mean.
			ok, _ = filepath.Match(strings.ToLower(in.Pattern), strings.ToLower(d.Name()))
		}
		if !ok {
			return nil
		}
		if len(matches) >= limit {
			truncated = true
			return fs.SkipAll
		}
		matches = append(matches, dirEntryToFileEntry(path, d))
		return nil
	})
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "search failed", err)
	}

	return map[string]any{
		"pattern":   in.Pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, nil
}

func (t *FileToolset) searchContent(_ context.Context, in searchContentInput) (any, error) {
	if in.Query == "" {
		return nil, dispatch.Errorf(dispatch.KindIOError, "query is required")
	}
	root := in.Path
	if root == "" {
		return nil, dispatch.Errorf(dispatch.KindIOError, "path is required")
	}
	limit := in.MaxResults
	if limit <= 0 || limit > maxListEntries {
		limit = 100
	}

	exts := make(map[string]bool, len(in.Extensions))
	for _, ext := range in.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	needle := in.Query
	if !in.CaseSensitive {
		needle = strings.ToLower(needle)
	}

	var matches []contentMatch
	truncated := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > t.maxFileSize {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil // unreadable or binary, skip
		}

		haystack := string(data)
		if !in.CaseSensitive {
			haystack = strings.ToLower(haystack)
		}
		if !strings.Contains(haystack, needle) {
			return nil
		}
		if len(matches) >= limit {
			truncated = true
			return fs.SkipAll
		}

		var lines []int
		for i, line := range strings.Split(haystack, "\n") {
			if strings.Contains(line, needle) {
				lines = append(lines, i+1)
			}
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		matches = append(matches, contentMatch{File: rel, Lines: lines, Count: len(lines)})
		return nil
	})
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "content search failed", err)
	}

	return map[string]any{
		"query":     in.Query,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, nil
}

func (t *FileToolset) fileInfo(_ context.Context, in fileInfoInput) (any, error) {
	info, err := os.Stat(in.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dispatch.Errorf(dispatch.KindIOError, "%s does not exist", filepath.Base(in.Path))
		}
		return nil, dispatch.WrapErr(dispatch.KindIOError, "stat failed", err)
	}

	return map[string]any{
		"name":     info.Name(),
		"path":     in.Path,
		"size":     info.Size(),
		"mode":     info.Mode().String(),
		"is_dir":   info.IsDir(),
		"modified": info.ModTime(),
	}, nil
}

func (t *FileToolset) deleteFile(_ context.Context, in deleteFileInput) (any, error) {
	info, err := os.Stat(in.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dispatch.Errorf(dispatch.KindIOError, "%s does not exist", filepath.Base(in.Path))
		}
		return nil, dispatch.WrapErr(dispatch.KindIOError, "stat failed", err)
	}
	// Directories are never deleted through this tool, empty or not.
	if info.IsDir() {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "%s is a directory, refusing to delete", filepath.Base(in.Path))
	}

	if err := os.Remove(in.Path); err != nil {
		return nil, dispatch.WrapErr(dispatch.KindIOError, "delete failed", err)
	}

	t.logger.Debug("file deleted", "path", in.Path)
	return map[string]any{"path": in.Path, "deleted": true}, nil
}

func dirEntryToFileEntry(path string, d fs.DirEntry) fileEntry {
	e := fileEntry{Name: d.Name(), Path: path, IsDir: d.IsDir()}
	if info, err := d.Info(); err == nil {
		e.Size = info.Size()
		e.Modified = info.ModTime()
	}
	return e
}
