package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger 键空间：
//
//	d:<location>   目录标记，value 为空
//	f:<location>   文件内容
//
// 根目录没有标记，始终视为存在。目录移动在单个事务内改写整段前缀，保证原子性。
const (
	prefixDir  = "d:"
	prefixFile = "f:"
)

func init() {
	MustRegister(Backend{
		Key:          "badger",
		Description:  "Directories emulated as prefixed keys in an embedded BadgerDB",
		Persistent:   true,
		RequiresPath: true,
		Open:         openBadger,
	})
}

func openBadger(opts Options) (Resource, func() error, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).WithLoggingLevel(badger.WARNING)
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open BadgerDB at %s: %w", opts.Path, err)
	}
	return NewBadger(db), db.Close, nil
}

// NewBadger 以已打开的 BadgerDB 作为工作区，调用方负责关闭 db。
func NewBadger(db *badger.DB) Resource {
	return &kvResource{store: &kvStore{db: db}, dir: true}
}

type kvStore struct {
	db *badger.DB

	mu   sync.RWMutex
	snap *kvSnapshot
	// gen 在每次写入时递增，防止 ReadAll 装入过期快照。
	gen uint64
}

// kvSnapshot 是 ReadAll 预加载的子树副本，任何写操作都会使其失效。
type kvSnapshot struct {
	root string
	dirs map[string]struct{}
	data map[string][]byte
}

func dirKey(loc string) []byte  { return []byte(prefixDir + loc) }
func fileKey(loc string) []byte { return []byte(prefixFile + loc) }

func (s *kvStore) snapshotFor(loc string) *kvSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap != nil && isWithin(loc, s.snap.root) {
		return s.snap
	}
	return nil
}

func (s *kvStore) invalidate() {
	s.mu.Lock()
	s.snap = nil
	s.gen++
	s.mu.Unlock()
}

func (s *kvStore) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// update 在事务前后各失效一次快照：事务提交前启动的 ReadAll 可能读到旧数据，
// 提交后的失效保证它装入的快照不会留存。
func (s *kvStore) update(fn func(txn *badger.Txn) error) error {
	s.invalidate()
	defer s.invalidate()
	return s.db.Update(fn)
}

// scan 返回位于 loc 子树内、指定前缀下的全部键（不含前缀）。
func scan(txn *badger.Txn, prefix, loc string, values bool) (map[string][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	opts.Prefix = []byte(prefix + loc)
	it := txn.NewIterator(opts)
	defer it.Close()

	result := make(map[string][]byte)
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := strings.TrimPrefix(string(item.KeyCopy(nil)), prefix)
		if !isWithin(key, loc) {
			continue
		}
		var value []byte
		if values {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return nil, err
			}
			value = v
		}
		result[key] = value
	}
	return result, nil
}

func hasKey(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func ensureDirs(txn *badger.Txn, loc string) error {
	for cur := loc; cur != ""; cur = parentLocation(cur) {
		if err := txn.Set(dirKey(cur), nil); err != nil {
			return err
		}
	}
	return nil
}

type kvResource struct {
	store   *kvStore
	loc     string
	dir     bool
	invalid bool
}

func (r *kvResource) Name() string      { return baseName(r.loc) }
func (r *kvResource) Location() string  { return r.loc }
func (r *kvResource) IsDirectory() bool { return r.dir }

func (r *kvResource) key() []byte {
	if r.dir {
		return dirKey(r.loc)
	}
	return fileKey(r.loc)
}

func (r *kvResource) Exists() bool {
	if r.invalid {
		return false
	}
	if r.dir && r.loc == "" {
		return true
	}
	if snap := r.store.snapshotFor(r.loc); snap != nil {
		if r.dir {
			_, ok := snap.dirs[r.loc]
			return ok
		}
		_, ok := snap.data[r.loc]
		return ok
	}
	found := false
	_ = r.store.db.View(func(txn *badger.Txn) error {
		ok, err := hasKey(txn, r.key())
		found = ok
		return err
	})
	return found
}

func (r *kvResource) Mkdir() error {
	if r.invalid {
		return ErrInvalidName
	}
	if !r.dir {
		return ErrNotDirectory
	}
	if r.loc == "" {
		return nil
	}
	return r.store.update(func(txn *badger.Txn) error {
		return ensureDirs(txn, r.loc)
	})
}

func (r *kvResource) RenameTo(target Resource) error {
	dst, ok := target.(*kvResource)
	if !ok || dst.store != r.store {
		return fmt.Errorf("rename %s: target belongs to another backend", r.loc)
	}
	if r.invalid || dst.invalid || r.loc == "" || dst.loc == "" || !r.dir || !dst.dir {
		return ErrInvalidName
	}
	if isWithin(dst.loc, r.loc) && dst.loc != r.loc {
		return fmt.Errorf("move %s into its own subtree %s", r.loc, dst.loc)
	}

	return r.store.update(func(txn *badger.Txn) error {
		exists, err := hasKey(txn, dirKey(r.loc))
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%s: %w", r.loc, ErrNotExist)
		}
		if r.loc == dst.loc {
			return nil
		}
		for _, key := range [][]byte{dirKey(dst.loc), fileKey(dst.loc)} {
			taken, err := hasKey(txn, key)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%s: %w", dst.loc, ErrExist)
			}
		}

		dirs, err := scan(txn, prefixDir, r.loc, false)
		if err != nil {
			return err
		}
		files, err := scan(txn, prefixFile, r.loc, true)
		if err != nil {
			return err
		}
		if err := ensureDirs(txn, parentLocation(dst.loc)); err != nil {
			return err
		}
		for loc := range dirs {
			moved := dst.loc + strings.TrimPrefix(loc, r.loc)
			if err := txn.Delete(dirKey(loc)); err != nil {
				return err
			}
			if err := txn.Set(dirKey(moved), nil); err != nil {
				return err
			}
		}
		for loc, value := range files {
			moved := dst.loc + strings.TrimPrefix(loc, r.loc)
			if err := txn.Delete(fileKey(loc)); err != nil {
				return err
			}
			if err := txn.Set(fileKey(moved), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *kvResource) Read() ([]byte, error) {
	if r.invalid || r.dir {
		return nil, fmt.Errorf("read %s: %w", r.loc, ErrNotExist)
	}
	if snap := r.store.snapshotFor(r.loc); snap != nil {
		data, ok := snap.data[r.loc]
		if !ok {
			return nil, fmt.Errorf("read %s: %w", r.loc, ErrNotExist)
		}
		return append([]byte(nil), data...), nil
	}

	var data []byte
	err := r.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(r.loc))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("read %s: %w", r.loc, ErrNotExist)
	}
	return data, err
}

func (r *kvResource) Write(data []byte) error {
	if r.invalid {
		return ErrInvalidName
	}
	if r.dir {
		return fmt.Errorf("write %s: %w", r.loc, ErrNotDirectory)
	}
	parent := parentLocation(r.loc)
	return r.store.update(func(txn *badger.Txn) error {
		if parent != "" {
			ok, err := hasKey(txn, dirKey(parent))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("write %s: parent %s: %w", r.loc, parent, ErrNotExist)
			}
		}
		return txn.Set(fileKey(r.loc), append([]byte(nil), data...))
	})
}

func (r *kvResource) Delete() error {
	if r.invalid || r.loc == "" {
		return ErrInvalidName
	}
	if !r.dir {
		return r.store.update(func(txn *badger.Txn) error {
			return txn.Delete(fileKey(r.loc))
		})
	}
	return r.store.update(func(txn *badger.Txn) error {
		dirs, err := scan(txn, prefixDir, r.loc, false)
		if err != nil {
			return err
		}
		files, err := scan(txn, prefixFile, r.loc, false)
		if err != nil {
			return err
		}
		for loc := range dirs {
			if err := txn.Delete(dirKey(loc)); err != nil {
				return err
			}
		}
		for loc := range files {
			if err := txn.Delete(fileKey(loc)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *kvResource) GetDirectory(name string) Resource {
	return r.child(name, true)
}

func (r *kvResource) GetResource(name string) Resource {
	return r.child(name, false)
}

func (r *kvResource) child(name string, dir bool) Resource {
	invalid := r.invalid || !r.dir || !validName(name)
	return &kvResource{store: r.store, loc: joinLocation(r.loc, name), dir: dir, invalid: invalid}
}

func (r *kvResource) Parent() Resource {
	return &kvResource{store: r.store, loc: parentLocation(r.loc), dir: true}
}

func (r *kvResource) Dirs() ([]Resource, error) {
	if r.invalid || !r.dir {
		return nil, nil
	}

	var locations []string
	if snap := r.store.snapshotFor(r.loc); snap != nil {
		for loc := range snap.dirs {
			if loc != r.loc && isWithin(loc, r.loc) {
				locations = append(locations, loc)
			}
		}
	} else {
		err := r.store.db.View(func(txn *badger.Txn) error {
			dirs, err := scan(txn, prefixDir, r.loc, false)
			if err != nil {
				return err
			}
			for loc := range dirs {
				if loc != r.loc {
					locations = append(locations, loc)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(locations, func(i, j int) bool {
		return lessBySegments(locations[i], locations[j])
	})
	result := make([]Resource, len(locations))
	for i, loc := range locations {
		result[i] = &kvResource{store: r.store, loc: loc, dir: true}
	}
	return result, nil
}

// ReadAll 将当前子树的目录与文件一次性读入内存快照。
func (r *kvResource) ReadAll() error {
	if r.invalid || !r.dir {
		return nil
	}
	gen := r.store.generation()
	snap := &kvSnapshot{root: r.loc}
	err := r.store.db.View(func(txn *badger.Txn) error {
		dirs, err := scan(txn, prefixDir, r.loc, false)
		if err != nil {
			return err
		}
		files, err := scan(txn, prefixFile, r.loc, true)
		if err != nil {
			return err
		}
		snap.dirs = make(map[string]struct{}, len(dirs))
		for loc := range dirs {
			snap.dirs[loc] = struct{}{}
		}
		snap.data = files
		return nil
	})
	if err != nil {
		return err
	}

	r.store.mu.Lock()
	if r.store.gen == gen {
		r.store.snap = snap
	}
	r.store.mu.Unlock()
	return nil
}

// lessBySegments 按路径片段逐级比较，得到与深度优先遍历一致的顺序。
func lessBySegments(a, b string) bool {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}
