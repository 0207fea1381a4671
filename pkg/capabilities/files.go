/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package capabilities

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/carverauto/cmdagent/pkg/dispatch"
	"github.com/carverauto/cmdagent/pkg/logger"
)

const modifiedLayout = "2006-01-02 15:04:05"

// errOutsideRoot is returned for a path that escapes the files root.
var errOutsideRoot = errors.New("path is outside the allowed directory")

type fileManagement struct {
	root   string
	logger logger.Logger
}

func newFileManagement(deps Deps) *fileManagement {
	root := deps.FilesRoot
	if root == "" {
		root, _ = os.UserHomeDir()
	}

	return &fileManagement{root: root, logger: deps.Logger}
}

func (f *fileManagement) entries() []entry {
	return []entry{
		{
			capability: dispatch.Capability{
				Action: "list_files", Domain: dispatch.DomainFiles,
				Description: "List a directory under the files root",
				Help: dispatch.Help{
					Parameters: map[string]string{
						"path":           "directory (optional, default files root)",
						"max_files":      "integer 1-10000 (optional, default 100)",
						"include_hidden": "boolean (optional, default false)",
					},
					Example: `{"action":"list_files","params":{"path":"Documents","max_files":50}}`,
				},
			},
			run: f.listFiles,
		},
		{
			capability: dispatch.Capability{
				Action: "delete_file", Domain: dispatch.DomainFiles,
				Description: "Delete a file or directory tree under the files root",
				Help: dispatch.Help{
					Parameters: map[string]string{"file_path": "path (required)"},
					Example:    `{"action":"delete_file","params":{"file_path":"Downloads/old.zip"}}`,
				},
			},
			run: f.deleteFile,
		},
		{
			capability: dispatch.Capability{
				Action: "get_file_info", Domain: dispatch.DomainFiles,
				Description: "Report metadata of a path under the files root",
				Help: dispatch.Help{
					Parameters: map[string]string{"file_path": "path (required)"},
					Example:    `{"action":"get_file_info","params":{"file_path":"Documents/report.pdf"}}`,
				},
			},
			run: f.fileInfo,
		},
	}
}

// resolve maps p onto an absolute path confined to the files root. Relative paths are
// taken from the root; symlinks are followed before the containment check.
func (f *fileManagement) resolve(p string) (string, error) {
	root, err := filepath.EvalSymlinks(f.root)
	if err != nil {
		return "", fmt.Errorf("files root: %w", err)
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}

	target = filepath.Clean(target)

	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		target = resolved
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}

	return target, nil
}

func pathFailure(err error, p string) dispatch.Result {
	switch {
	case errors.Is(err, errOutsideRoot):
		return dispatch.Fail("Path is outside the allowed directory: %s", p)
	case errors.Is(err, fs.ErrNotExist):
		return dispatch.Fail("File does not exist: %s", p)
	default:
		return dispatch.FailErr("resolve "+p, err)
	}
}

type fileEntry struct {
	Name                 string `json:"name"`
	Path                 string `json:"path"`
	IsDirectory          bool   `json:"is_directory"`
	IsFile               bool   `json:"is_file"`
	Size                 int64  `json:"size"`
	SizeReadable         string `json:"size_readable"`
	LastModified         int64  `json:"last_modified"`
	LastModifiedReadable string `json:"last_modified_readable"`
	CanRead              bool   `json:"can_read"`
	CanWrite             bool   `json:"can_write"`
	IsHidden             bool   `json:"is_hidden"`
	Extension            string `json:"extension"`
	MimeType             string `json:"mime_type"`
}

func newFileEntry(path string, fi fs.FileInfo) fileEntry {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fi.Name())), ".")
	mode := fi.Mode().Perm()

	e := fileEntry{
		Name:                 fi.Name(),
		Path:                 path,
		IsDirectory:          fi.IsDir(),
		IsFile:               fi.Mode().IsRegular(),
		Size:                 fi.Size(),
		SizeReadable:         humanize.IBytes(uint64(fi.Size())),
		LastModified:         fi.ModTime().UnixMilli(),
		LastModifiedReadable: fi.ModTime().Format(modifiedLayout),
		CanRead:              mode&0o444 != 0,
		CanWrite:             mode&0o222 != 0,
		IsHidden:             strings.HasPrefix(fi.Name(), "."),
		Extension:            ext,
		MimeType:             "application/octet-stream",
	}

	if fi.IsDir() {
		e.MimeType = "inode/directory"
	} else if t := mime.TypeByExtension("." + ext); ext != "" && t != "" {
		e.MimeType = t
	}

	return e
}

func (f *fileManagement) listFiles(_ context.Context, _ string, p dispatch.Params) dispatch.Result {
	maxFiles, bad := intInRange(p, "max_files", 100, 1, 10000, "max_files must be between 1-10000")
	if bad != nil {
		return *bad
	}

	includeHidden := p.Bool("include_hidden", false)
	requested := p.StringOr("path", f.root)

	dir, err := f.resolve(requested)
	if err != nil {
		return pathFailure(err, requested)
	}

	fi, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return dispatch.Fail("Directory does not exist: %s", requested)
	}

	if err != nil {
		return dispatch.FailErr("list files", err)
	}

	if !fi.IsDir() {
		return dispatch.Fail("Path is not a directory: %s", requested)
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return dispatch.Fail("Cannot read directory: %s", requested)
	}

	files := make([]fileEntry, 0, len(dirents))

	var total int64

	for _, d := range dirents {
		if len(files) >= maxFiles {
			break
		}

		if !includeHidden && strings.HasPrefix(d.Name(), ".") {
			continue
		}

		info, err := d.Info()
		if err != nil {
			f.logger.Debug().Err(err).Str("name", d.Name()).Msg("Skipping unreadable entry")
			continue
		}

		files = append(files, newFileEntry(filepath.Join(dir, d.Name()), info))
		total += info.Size()
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].IsDirectory != files[j].IsDirectory {
			return files[i].IsDirectory
		}

		return files[i].Name < files[j].Name
	})

	return dispatch.OK(fmt.Sprintf("Found %d files in %s", len(files), dir), map[string]interface{}{
		"files":               files,
		"total_files":         len(files),
		"total_size":          total,
		"total_size_readable": humanize.IBytes(uint64(total)),
		"directory_path":      dir,
		"parent_directory":    filepath.Dir(dir),
	})
}

func (f *fileManagement) deleteFile(_ context.Context, _ string, p dispatch.Params) dispatch.Result {
	requested, err := p.RequireString("file_path")
	if err != nil {
		return dispatch.ParamError(err)
	}

	target, err := f.resolve(requested)
	if err != nil {
		return pathFailure(err, requested)
	}

	root, _ := filepath.EvalSymlinks(f.root)
	if target == root {
		return dispatch.Fail("Refusing to delete the files root")
	}

	fi, err := os.Lstat(target)
	if err != nil {
		return pathFailure(err, requested)
	}

	if err := os.RemoveAll(target); err != nil {
		return dispatch.FailErr("delete file", err)
	}

	f.logger.Info().Str("path", target).Bool("directory", fi.IsDir()).Msg("File deleted by controller")

	return dispatch.OK("File deleted: "+requested, map[string]interface{}{
		"deleted_path":  target,
		"was_directory": fi.IsDir(),
	})
}

func (f *fileManagement) fileInfo(_ context.Context, _ string, p dispatch.Params) dispatch.Result {
	requested, err := p.RequireString("file_path")
	if err != nil {
		return dispatch.ParamError(err)
	}

	target, err := f.resolve(requested)
	if err != nil {
		return pathFailure(err, requested)
	}

	fi, err := os.Stat(target)
	if err != nil {
		return pathFailure(err, requested)
	}

	info := map[string]interface{}{
		"file":             newFileEntry(target, fi),
		"parent_directory": filepath.Dir(target),
		"can_execute":      fi.Mode().Perm()&0o111 != 0,
	}

	if fi.IsDir() {
		if children, err := os.ReadDir(target); err == nil {
			info["child_count"] = len(children)
		}
	}

	return dispatch.OK("File info retrieved", info)
}
