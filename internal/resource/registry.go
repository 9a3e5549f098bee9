package resource

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// OpenFunc 根据 Options 打开一个后端，返回根目录与释放函数。
type OpenFunc func(opts Options) (Resource, func() error, error)

// Backend 记录一个存储后端的静态信息，供配置校验和诊断端使用。
type Backend struct {
	Key         string
	Description string
	// Persistent 表示进程重启后数据是否仍然存在。
	Persistent bool
	// RequiresPath 表示 Options.Path 是否必填。
	RequiresPath bool
	Open         OpenFunc
}

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func newRegistry() *registry {
	return &registry{backends: make(map[string]Backend)}
}

// Register 将后端加入全局注册表，重复键会返回错误。
func Register(backend Backend) error {
	return globalRegistry.register(backend)
}

// MustRegister 在注册失败时 panic，适合后端 init() 中调用。
func MustRegister(backend Backend) {
	if err := Register(backend); err != nil {
		panic(err)
	}
}

// Lookup 返回指定键的后端。
func Lookup(key string) (Backend, bool) {
	return globalRegistry.lookup(key)
}

// List 返回按键排序的后端列表。
func List() []Backend {
	return globalRegistry.list()
}

// Keys 返回所有已注册后端的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, backend := range items {
		result[i] = backend.Key
	}
	return result
}

// Open 按键打开后端并包装为 Workspace。
func Open(key string, opts Options) (*Workspace, error) {
	backend, ok := Lookup(key)
	if !ok {
		return nil, fmt.Errorf("backend %s is not registered", key)
	}
	if backend.RequiresPath && strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("backend %s requires a workspace path", backend.Key)
	}
	root, closer, err := backend.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open backend %s: %w", backend.Key, err)
	}
	return &Workspace{Backend: backend.Key, Root: root, closer: closer}, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(backend Backend) error {
	key := normalizeKey(backend.Key)
	if key == "" {
		return fmt.Errorf("backend key is required")
	}
	if backend.Open == nil {
		return fmt.Errorf("backend %s has no open function", key)
	}
	backend.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[key]; exists {
		return fmt.Errorf("backend %s already registered", key)
	}
	r.backends[key] = backend
	return nil
}

func (r *registry) lookup(key string) (Backend, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Backend{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	backend, ok := r.backends[normalized]
	return backend, ok
}

func (r *registry) list() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.backends) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.backends))
	for key := range r.backends {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Backend, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.backends[key])
	}
	return result
}
