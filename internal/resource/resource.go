package resource

import (
	"errors"
	"path"
	"strings"
)

var (
	// ErrNotExist 表示目录或文件不存在。
	ErrNotExist = errors.New("resource does not exist")
	// ErrExist 表示目标位置已被占用。
	ErrExist = errors.New("resource already exists")
	// ErrInvalidName 表示名称不是合法的单级路径片段。
	ErrInvalidName = errors.New("invalid resource name")
	// ErrNotDirectory 表示对文件执行了目录操作。
	ErrNotDirectory = errors.New("resource is not a directory")
)

// Resource 是分层存储中的一个节点（目录或文件），所有路径均为相对工作区根目录的 slash 路径。
type Resource interface {
	// Name 返回最后一级路径片段，根目录为空字符串。
	Name() string
	// Location 返回相对工作区根目录的完整路径，根目录为空字符串。
	Location() string
	// IsDirectory 表示该句柄指向目录还是文件。
	IsDirectory() bool

	Exists() bool
	// Mkdir 创建目录及其缺失的祖先目录，已存在时直接返回 nil。
	Mkdir() error
	// RenameTo 将当前目录整体移动到 target，target 已存在时返回 ErrExist。
	RenameTo(target Resource) error
	Read() ([]byte, error)
	// Write 覆盖写入文件内容，父目录必须已存在。
	Write(data []byte) error
	// Delete 递归删除目录或文件，不存在时返回 nil。
	Delete() error

	GetDirectory(name string) Resource
	GetResource(name string) Resource
	// Dirs 返回当前目录下的全部子孙目录：父目录先于子目录，同级按名称排序。
	Dirs() ([]Resource, error)
	Parent() Resource
	// ReadAll 提示后端预先加载整棵子树，供随后的 Dirs/Read 复用。
	ReadAll() error
}

// Options 描述打开后端时需要的参数。
type Options struct {
	// Path 是工作区在磁盘上的位置，memory 后端忽略该字段。
	Path string
	// Logger 可选，供存储引擎输出内部日志。
	Logger Logger
}

// Logger 与 badger/logrus 的分级日志方法保持一致。
type Logger interface {
	Errorf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Workspace 组合后端根目录与释放函数。
type Workspace struct {
	Backend string
	Root    Resource
	closer  func() error
}

// Close 释放后端持有的句柄，可重复调用。
func (w *Workspace) Close() error {
	if w == nil || w.closer == nil {
		return nil
	}
	closer := w.closer
	w.closer = nil
	return closer()
}

// validName 只接受单级路径片段，防止通过名称逃逸出父目录。
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

func joinLocation(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func parentLocation(loc string) string {
	if loc == "" {
		return ""
	}
	parent := path.Dir(loc)
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}

func baseName(loc string) string {
	if loc == "" {
		return ""
	}
	return path.Base(loc)
}

// isWithin 判断 loc 是否位于 dir 之下（含 dir 本身）。
func isWithin(loc, dir string) bool {
	if dir == "" {
		return true
	}
	return loc == dir || strings.HasPrefix(loc, dir+"/")
}
