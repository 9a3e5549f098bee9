package resource

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

func init() {
	MustRegister(Backend{
		Key:          "disk",
		Description:  "Nested directories on the local filesystem",
		Persistent:   true,
		RequiresPath: true,
		Open:         openDisk,
	})
	MustRegister(Backend{
		Key:         "memory",
		Description: "In-process filesystem, discarded on exit",
		Open:        openMemory,
	})
}

func openDisk(opts Options) (Resource, func() error, error) {
	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create workspace path: %w", err)
	}
	return newFilesystem(osfs.New(abs), true), nil, nil
}

func openMemory(Options) (Resource, func() error, error) {
	return NewFilesystem(memfs.New()), nil, nil
}

// NewFilesystem 以 billy.Filesystem 的根目录作为工作区根节点。
// 目录移动通过逐个复制文件完成，不依赖底层 Rename 对子树的处理。
func NewFilesystem(fs billy.Filesystem) Resource {
	return newFilesystem(fs, false)
}

func newFilesystem(fs billy.Filesystem, nativeRename bool) Resource {
	return &fsResource{
		shared: &fsShared{fs: fs, nativeRename: nativeRename},
		dir:    true,
	}
}

// fsShared 是同一文件系统上所有节点共用的状态。memfs 内部没有锁，
// 读操作持有读锁，任何修改持有写锁。
type fsShared struct {
	fs           billy.Filesystem
	mu           sync.RWMutex
	nativeRename bool
}

// fsResource 将目录树直接映射到 billy.Filesystem，列表总是实时读取，ReadAll 无需预加载。
type fsResource struct {
	shared  *fsShared
	loc     string
	dir     bool
	invalid bool
}

func (r *fsResource) node(loc string, dir bool) *fsResource {
	return &fsResource{shared: r.shared, loc: loc, dir: dir}
}

func (r *fsResource) Name() string      { return baseName(r.loc) }
func (r *fsResource) Location() string  { return r.loc }
func (r *fsResource) IsDirectory() bool { return r.dir }

func (r *fsResource) Exists() bool {
	r.shared.mu.RLock()
	defer r.shared.mu.RUnlock()
	return r.existsLocked()
}

func (r *fsResource) existsLocked() bool {
	if r.invalid {
		return false
	}
	if r.loc == "" {
		return true
	}
	info, err := r.shared.fs.Stat(r.loc)
	if err != nil {
		return false
	}
	return info.IsDir() == r.dir
}

func (r *fsResource) Mkdir() error {
	if r.invalid {
		return ErrInvalidName
	}
	if !r.dir {
		return ErrNotDirectory
	}
	if r.loc == "" {
		return nil
	}
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	return r.shared.fs.MkdirAll(r.loc, 0o755)
}

func (r *fsResource) RenameTo(target Resource) error {
	dst, ok := target.(*fsResource)
	if !ok || dst.shared != r.shared {
		return fmt.Errorf("rename %s: target belongs to another backend", r.loc)
	}
	if r.invalid || dst.invalid || r.loc == "" || dst.loc == "" {
		return ErrInvalidName
	}

	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()

	fs := r.shared.fs
	if !r.existsLocked() {
		return fmt.Errorf("%s: %w", r.loc, ErrNotExist)
	}
	if r.loc == dst.loc {
		return nil
	}
	if isWithin(dst.loc, r.loc) {
		return fmt.Errorf("move %s into its own subtree %s", r.loc, dst.loc)
	}
	if _, err := fs.Stat(dst.loc); err == nil {
		return fmt.Errorf("%s: %w", dst.loc, ErrExist)
	}
	if parent := parentLocation(dst.loc); parent != "" {
		if err := fs.MkdirAll(parent, 0o755); err != nil {
			return err
		}
	}
	if r.shared.nativeRename {
		return fs.Rename(r.loc, dst.loc)
	}
	return r.moveTree(dst.loc)
}

// moveTree 把 r 的子树复制到 dst 后删除源目录。memfs 的 Rename 按字符串前缀
// 挑选要移动的条目，会把同前缀的兄弟目录（a 与 ab）一起带走。调用方需持有写锁。
func (r *fsResource) moveTree(dst string) error {
	fs := r.shared.fs
	err := util.Walk(fs, r.loc, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel := strings.TrimPrefix(filepath.ToSlash(p), r.loc)
		target := dst + rel
		if info.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		data, err := util.ReadFile(fs, p)
		if err != nil {
			return err
		}
		return util.WriteFile(fs, target, data, 0o644)
	})
	if err != nil {
		_ = util.RemoveAll(fs, dst)
		return fmt.Errorf("move %s to %s: %w", r.loc, dst, err)
	}
	return util.RemoveAll(fs, r.loc)
}

func (r *fsResource) Read() ([]byte, error) {
	if r.invalid || r.dir {
		return nil, fmt.Errorf("read %s: %w", r.loc, ErrNotExist)
	}
	r.shared.mu.RLock()
	data, err := util.ReadFile(r.shared.fs, r.loc)
	r.shared.mu.RUnlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", r.loc, ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

// Write 先写临时文件再 rename 覆盖，避免读到写了一半的元数据。
func (r *fsResource) Write(data []byte) error {
	if r.invalid {
		return ErrInvalidName
	}
	if r.dir {
		return fmt.Errorf("write %s: %w", r.loc, ErrNotDirectory)
	}
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()

	fs := r.shared.fs
	dir := parentLocation(r.loc)
	if dir != "" {
		info, err := fs.Stat(dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("write %s: parent %s: %w", r.loc, dir, ErrNotExist)
		}
	}

	tempFile, err := fs.TempFile(dir, ".group-")
	if err != nil {
		return err
	}
	tempName := joinLocation(dir, path.Base(filepath.ToSlash(tempFile.Name())))

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = fs.Remove(tempName)
		return err
	}

	if err := fs.Rename(tempName, r.loc); err != nil {
		_ = fs.Remove(tempName)
		return err
	}
	return nil
}

func (r *fsResource) Delete() error {
	if r.invalid || r.loc == "" {
		return ErrInvalidName
	}
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	if err := util.RemoveAll(r.shared.fs, r.loc); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (r *fsResource) GetDirectory(name string) Resource {
	return r.child(name, true)
}

func (r *fsResource) GetResource(name string) Resource {
	return r.child(name, false)
}

func (r *fsResource) child(name string, dir bool) Resource {
	child := r.node(joinLocation(r.loc, name), dir)
	if r.invalid || !r.dir || !validName(name) {
		child.invalid = true
	}
	return child
}

func (r *fsResource) Parent() Resource {
	return r.node(parentLocation(r.loc), true)
}

func (r *fsResource) Dirs() ([]Resource, error) {
	r.shared.mu.RLock()
	defer r.shared.mu.RUnlock()
	if r.invalid || !r.dir || !r.existsLocked() {
		return nil, nil
	}
	var result []Resource
	if err := r.walk(r.loc, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *fsResource) walk(loc string, out *[]Resource) error {
	entries, err := r.shared.fs.ReadDir(loc)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := joinLocation(loc, entry.Name())
		*out = append(*out, r.node(child, true))
		if err := r.walk(child, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *fsResource) ReadAll() error {
	return nil
}
