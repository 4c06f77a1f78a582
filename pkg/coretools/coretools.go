// Package coretools provides the baseline filesystem and runtime tools
// shipped with the engine. All paths are confined to a workspace root.
package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/daneel/olivaw/pkg/toolbridge"
)

// maxReadBytes caps how much of a file a single read returns.
const maxReadBytes = 64 * 1024

// Options configures the core tool catalog.
type Options struct {
	WorkspaceRoot string
}

// Catalog returns the built-in tools rooted at the workspace.
func Catalog(opts Options) toolbridge.StaticCatalog {
	return toolbridge.StaticCatalog{
		readFileTool(opts),
		writeFileTool(opts),
		listDirTool(opts),
		currentTimeTool(),
	}
}

func readFileTool(opts Options) toolbridge.Tool {
	return toolbridge.Tool{
		ID:          "read_file",
		Title:       "Read file",
		Description: "Read a UTF-8 text file from the workspace. Large files are truncated.",
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the workspace root",
				},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, args map[string]any) toolbridge.Result {
			path, err := resolvePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return toolbridge.Result{Err: err}
			}
			data, truncated, err := readWithLimit(path, maxReadBytes)
			if err != nil {
				return toolbridge.Result{Err: err}
			}
			output := string(data)
			if truncated {
				output += "\n... [file truncated]"
			}
			return toolbridge.Result{Output: output}
		},
	}
}

func writeFileTool(opts Options) toolbridge.Tool {
	return toolbridge.Tool{
		ID:          "write_file",
		Title:       "Write file",
		Description: "Write a UTF-8 text file inside the workspace, creating parent directories as needed.",
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the workspace root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full file content to write",
				},
			},
			"required": []string{"path", "content"},
		},
		Execute: func(ctx context.Context, args map[string]any) toolbridge.Result {
			path, err := resolvePath(opts.WorkspaceRoot, args["path"])
			if err != nil {
				return toolbridge.Result{Err: err}
			}
			content, _ := args["content"].(string)
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return toolbridge.Result{Err: err}
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return toolbridge.Result{Err: err}
			}
			rel := displayPath(opts.WorkspaceRoot, path)
			return toolbridge.Result{
				Output:  fmt.Sprintf("Wrote %d bytes to %s", len(content), rel),
				ForUser: fmt.Sprintf("Updated %s", rel),
			}
		},
	}
}

func listDirTool(opts Options) toolbridge.Tool {
	return toolbridge.Tool{
		ID:          "list_dir",
		Title:       "List directory",
		Description: "List the entries of a workspace directory.",
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory path relative to the workspace root; defaults to the root",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) toolbridge.Result {
			target := opts.WorkspaceRoot
			if raw, ok := args["path"]; ok {
				resolved, err := resolvePath(opts.WorkspaceRoot, raw)
				if err != nil {
					return toolbridge.Result{Err: err}
				}
				target = resolved
			}
			entries, err := os.ReadDir(target)
			if err != nil {
				return toolbridge.Result{Err: err}
			}
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return toolbridge.Result{Output: strings.Join(names, "\n")}
		},
	}
}

func currentTimeTool() toolbridge.Tool {
	return toolbridge.Tool{
		ID:          "current_time",
		Title:       "Current time",
		Description: "Return the current time in RFC 3339 format.",
		Execute: func(ctx context.Context, args map[string]any) toolbridge.Result {
			return toolbridge.Result{Output: time.Now().Format(time.RFC3339)}
		},
	}
}

// resolvePath joins a caller-supplied path onto the workspace root and
// rejects anything that escapes it.
func resolvePath(root string, raw any) (string, error) {
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("path is required")
	}
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	joined := value
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(absRoot, joined)
	}
	cleaned := filepath.Clean(joined)

	if cleaned != absRoot && !strings.HasPrefix(cleaned, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", value)
	}
	return cleaned, nil
}

func displayPath(root, path string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(absRoot, path)
	if err != nil {
		return path
	}
	return rel
}

func readWithLimit(path string, limit int64) ([]byte, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("path is a directory: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
