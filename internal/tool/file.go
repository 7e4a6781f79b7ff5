package tool

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"deskpilot/internal/domain"
)

// resolvePath resolves a path relative to the workspace. When restrict is set
// the result must stay inside the workspace.
func resolvePath(workspace string, restrict bool, path string) (string, error) {
	path = ExpandHome(strings.TrimSpace(path))
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if restrict && workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if !strings.HasPrefix(resolved, wsAbs+string(filepath.Separator)) && resolved != wsAbs {
			return "", fmt.Errorf("path %q is outside workspace %q", resolved, wsAbs)
		}
	}
	return resolved, nil
}

// FileConfig is shared by the file capabilities.
type FileConfig struct {
	Workspace string
	Restrict  bool
}

func (c FileConfig) resolve(path string) (string, error) {
	return resolvePath(c.Workspace, c.Restrict, path)
}

// --- ListFilesTool ---

type ListFilesTool struct{ cfg FileConfig }

func NewListFilesTool(cfg FileConfig) *ListFilesTool { return &ListFilesTool{cfg: cfg} }

func (t *ListFilesTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "list_files",
		Description: "List files and directories at a path",
		Category:    domain.CategoryFileOperations,
		Keywords:    []string{"list", "files", "directory", "ls", "dir"},
		Parameters: []domain.ParameterSchema{
			{Name: "path", Kind: domain.KindPath, Description: "Directory to list", Default: "."},
			{Name: "show_hidden", Kind: domain.KindBoolean, Description: "Include dotfiles", Default: false},
		},
		Examples: []string{"list files", "list files in ~/Documents"},
	}
}

func (t *ListFilesTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	resolved, err := t.cfg.resolve(ArgsString(args, "path"))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	showHidden := ArgsBool(args, "show_hidden")

	files := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if !showHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		item := map[string]any{"name": e.Name(), "dir": e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = info.Size()
		}
		files = append(files, item)
	}
	return domain.OK(fmt.Sprintf("%d entries in %s", len(files), resolved), map[string]any{
		"path":  resolved,
		"files": files,
	}), nil
}

// --- ReadFileTool ---

type ReadFileTool struct{ cfg FileConfig }

func NewReadFileTool(cfg FileConfig) *ReadFileTool { return &ReadFileTool{cfg: cfg} }

func (t *ReadFileTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "read_file",
		Description: "Read the contents of a text file",
		Category:    domain.CategoryFileOperations,
		Keywords:    []string{"read", "show", "cat", "file"},
		Parameters: []domain.ParameterSchema{
			{Name: "file_path", Kind: domain.KindPath, Description: "File to read", Required: true},
		},
		Examples: []string{"read file notes.txt"},
	}
}

func (t *ReadFileTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	resolved, err := t.cfg.resolve(ArgsString(args, "file_path"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return domain.OK(fmt.Sprintf("Read %d bytes from %s", len(data), resolved), map[string]any{
		"path":    resolved,
		"content": string(data),
	}), nil
}

// --- WriteFileTool ---

type WriteFileTool struct{ cfg FileConfig }

func NewWriteFileTool(cfg FileConfig) *WriteFileTool { return &WriteFileTool{cfg: cfg} }

func (t *WriteFileTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "write_file",
		Description: "Write text to a file, creating parent directories",
		Category:    domain.CategoryFileOperations,
		Keywords:    []string{"write", "save", "create file"},
		Parameters: []domain.ParameterSchema{
			{Name: "file_path", Kind: domain.KindPath, Description: "Destination file", Required: true},
			{Name: "text", Kind: domain.KindString, Description: "Content to write", Required: true},
		},
		Examples: []string{`write "hello" to notes.txt`},
	}
}

func (t *WriteFileTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	resolved, err := t.cfg.resolve(ArgsString(args, "file_path"))
	if err != nil {
		return nil, err
	}
	content := ArgsString(args, "text")
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return domain.OK(fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved), map[string]any{"path": resolved}), nil
}

// --- CopyFilesTool / MoveFilesTool ---

// TransferTool copies or moves a file or directory tree.
type TransferTool struct {
	cfg  FileConfig
	move bool
}

func NewCopyFilesTool(cfg FileConfig) *TransferTool { return &TransferTool{cfg: cfg} }
func NewMoveFilesTool(cfg FileConfig) *TransferTool { return &TransferTool{cfg: cfg, move: true} }

func (t *TransferTool) Describe() domain.CapabilityDescriptor {
	verb, name := "Copy", "copy_files"
	keywords := []string{"copy", "duplicate", "cp"}
	if t.move {
		verb, name = "Move", "move_files"
		keywords = []string{"move", "rename", "mv"}
	}
	return domain.CapabilityDescriptor{
		Name:        name,
		Description: verb + " files or directories to a destination",
		Category:    domain.CategoryFileOperations,
		Keywords:    keywords,
		Parameters: []domain.ParameterSchema{
			{Name: "source_path", Kind: domain.KindPath, Description: "File or directory to " + strings.ToLower(verb), Required: true},
			{Name: "destination_path", Kind: domain.KindPath, Description: "Target file or directory", Required: true},
			{Name: "overwrite", Kind: domain.KindBoolean, Description: "Replace an existing destination", Default: false},
		},
		Examples: []string{strings.ToLower(verb) + " report.pdf to ~/Documents"},
	}
}

func (t *TransferTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	src, err := t.cfg.resolve(ArgsString(args, "source_path"))
	if err != nil {
		return nil, err
	}
	dst, err := t.cfg.resolve(ArgsString(args, "destination_path"))
	if err != nil {
		return nil, err
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if _, err := os.Stat(dst); err == nil && !ArgsBool(args, "overwrite") {
		return domain.Failed("Destination exists", "destination already exists: "+dst), nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}

	if t.move {
		if err := os.Rename(src, dst); err == nil {
			return domain.OK(fmt.Sprintf("Moved %s to %s", src, dst), map[string]any{"source": src, "destination": dst}), nil
		}
	}

	if srcInfo.IsDir() {
		err = copyTree(ctx, src, dst)
	} else {
		err = copyFile(src, dst, srcInfo.Mode())
	}
	if err != nil {
		return nil, err
	}
	if t.move {
		if err := os.RemoveAll(src); err != nil {
			return nil, fmt.Errorf("remove source after copy: %w", err)
		}
		return domain.OK(fmt.Sprintf("Moved %s to %s", src, dst), map[string]any{"source": src, "destination": dst}), nil
	}
	return domain.OK(fmt.Sprintf("Copied %s to %s", src, dst), map[string]any{"source": src, "destination": dst}), nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		return copyFile(path, target, info.Mode())
	})
}

// --- CreateZipTool ---

type CreateZipTool struct{ cfg FileConfig }

func NewCreateZipTool(cfg FileConfig) *CreateZipTool { return &CreateZipTool{cfg: cfg} }

func (t *CreateZipTool) Describe() domain.CapabilityDescriptor {
	return domain.CapabilityDescriptor{
		Name:        "create_zip",
		Description: "Compress files or directories into a zip archive",
		Category:    domain.CategoryUtilities,
		Keywords:    []string{"zip", "compress", "archive"},
		Parameters: []domain.ParameterSchema{
			{Name: "source_path", Kind: domain.KindPath, Description: "File or directory to compress", Required: true},
			{Name: "destination_path", Kind: domain.KindPath, Description: "Archive to create (defaults to <source>.zip)"},
		},
		Examples: []string{"create zip of ~/project", "compress reports"},
	}
}

func (t *CreateZipTool) Invoke(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
	src, err := t.cfg.resolve(ArgsString(args, "source_path"))
	if err != nil {
		return nil, err
	}
	dstArg := ArgsString(args, "destination_path")
	if dstArg == "" {
		dstArg = strings.TrimSuffix(src, string(filepath.Separator)) + ".zip"
	}
	dst, err := t.cfg.resolve(dstArg)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(f)
	count := 0
	base := filepath.Dir(src)
	walkErr := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || path == dst {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if _, err := io.Copy(w, in); err != nil {
			return err
		}
		count++
		return nil
	})
	closeErr := zw.Close()
	if err := f.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if walkErr != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("build archive: %w", walkErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("finish archive: %w", closeErr)
	}
	return domain.OK(fmt.Sprintf("Created %s with %d files", dst, count), map[string]any{
		"archive": dst,
		"files":   count,
	}), nil
}

// Compile-time interface checks.
var (
	_ domain.Capability = (*ListFilesTool)(nil)
	_ domain.Capability = (*ReadFileTool)(nil)
	_ domain.Capability = (*WriteFileTool)(nil)
	_ domain.Capability = (*TransferTool)(nil)
	_ domain.Capability = (*CreateZipTool)(nil)
)
