package group

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/groupstore/internal/resource"
)

var (
	// ErrGroupExists 表示目标目录（父目录 + 名称）已被占用。
	ErrGroupExists = errors.New("group already exists")
	// ErrGroupNotCached 表示分组不在位置缓存中；Update 要求调用方先加载树或插入该分组。
	ErrGroupNotCached = errors.New("group location not cached")
	// ErrPartialUpdate 表示目录已经移动但元数据写入失败，磁盘上的 group.json 仍是旧内容。
	ErrPartialUpdate = errors.New("group moved but metadata write failed")
)

// StoreOptions 控制 Store 的可选依赖。
type StoreOptions struct {
	Logger *logrus.Logger
	Layout Layout
	// IDGenerator 为空时使用去掉连字符的 UUID。
	IDGenerator func() string
	// Clock 为空时使用 time.Now。
	Clock func() time.Time
}

// Store 是分组树的存储实现。位置缓存与两个命名空间的扁平缓存由 mu 统一保护，
// 存储 I/O 均在锁外进行；同一分组的并发写入由调用方保证串行。
type Store struct {
	workspace resource.Resource
	layout    Layout
	logger    *logrus.Logger
	newID     func() string
	now       func() time.Time

	mu            sync.RWMutex
	mappings      map[string]resource.Resource
	apiCache      map[string]Group
	functionCache map[string]Group
}

// NewStore 以 workspace 为根构建分组存储。
func NewStore(workspace resource.Resource, opts StoreOptions) (*Store, error) {
	if workspace == nil {
		return nil, errors.New("workspace resource is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	newID := opts.IDGenerator
	if newID == nil {
		newID = func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		workspace:     workspace,
		layout:        opts.Layout.withDefaults(),
		logger:        logger,
		newID:         newID,
		now:           clock,
		mappings:      make(map[string]resource.Resource),
		apiCache:      make(map[string]Group),
		functionCache: make(map[string]Group),
	}, nil
}

// Layout 返回当前生效的目录约定。
func (s *Store) Layout() Layout {
	return s.layout
}

// NamespaceRoot 返回命名空间根目录；非 API 类型一律落在函数命名空间。
func (s *Store) NamespaceRoot(t Type) resource.Resource {
	if t == TypeAPI {
		return s.workspace.GetDirectory(s.layout.APIDir)
	}
	return s.workspace.GetDirectory(s.layout.FunctionDir)
}

// targetDirectory 计算分组应当所在的目录：父分组已缓存时位于父目录下，否则视为顶层分组。
func (s *Store) targetDirectory(g Group) resource.Resource {
	if parent, ok := s.GroupResource(g.ParentID); ok {
		return parent.GetDirectory(g.Name)
	}
	return s.NamespaceRoot(g.Type).GetDirectory(g.Name)
}

// Insert 创建分组目录并写入元数据；ID 为空时自动生成。
// 只有写入成功后才把 ID 与时间戳回填到 g，失败时 g 保持原样。
func (s *Store) Insert(g *Group) error {
	if g == nil {
		return errors.New("group is nil")
	}
	created := *g
	if strings.TrimSpace(created.ID) == "" {
		created.ID = s.newID()
	}
	now := s.now().UnixMilli()
	if created.CreateTime == 0 {
		created.CreateTime = now
	}
	created.UpdateTime = now

	directory := s.targetDirectory(created)
	if directory.Exists() {
		return fmt.Errorf("insert %s at %s: %w", created.ID, directory.Location(), ErrGroupExists)
	}
	if err := directory.Mkdir(); err != nil {
		return fmt.Errorf("create group directory %s: %w", directory.Location(), err)
	}

	payload, err := Encode(created)
	if err != nil {
		_ = directory.Delete()
		return err
	}
	meta := directory.GetResource(s.layout.MetadataFile)
	if err := meta.Write(payload); err != nil {
		// 没有元数据的目录不会被加载，但会占用名称
		if cleanupErr := directory.Delete(); cleanupErr != nil {
			s.logger.WithFields(logrus.Fields{
				"action":   "group_insert",
				"location": directory.Location(),
			}).Warn(cleanupErr.Error())
		}
		return fmt.Errorf("write group metadata %s: %w", meta.Location(), err)
	}

	s.mu.Lock()
	s.mappings[created.ID] = meta
	s.mu.Unlock()
	*g = created

	s.logger.WithFields(logrus.Fields{
		"action":   "group_insert",
		"group_id": g.ID,
		"type":     g.Type.Label(),
		"location": directory.Location(),
	}).Debug("group created")
	return nil
}

// Update 将分组目录重命名/移动到新的父目录与名称下，并重写元数据。
//
// 前置条件：g.ID 必须已在位置缓存中，否则返回 ErrGroupNotCached。
// 目录移动与元数据写入不是原子的：移动成功而写入失败时返回 ErrPartialUpdate，
// 此时不会回滚目录，位置缓存指向移动后的目录，下次加载会读到旧的元数据。
func (s *Store) Update(g Group) error {
	s.mu.RLock()
	current, ok := s.mappings[g.ID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update %s: %w", g.ID, ErrGroupNotCached)
	}

	if g.CreateTime == 0 {
		if previous, err := s.ReadGroup(current); err == nil {
			g.CreateTime = previous.CreateTime
			if g.CreateBy == "" {
				g.CreateBy = previous.CreateBy
			}
		}
	}
	g.UpdateTime = s.now().UnixMilli()

	oldDir := current.Parent()
	target := s.targetDirectory(g)
	if err := oldDir.RenameTo(target); err != nil {
		if errors.Is(err, resource.ErrExist) {
			return fmt.Errorf("move %s to %s: %w", g.ID, target.Location(), ErrGroupExists)
		}
		return fmt.Errorf("move %s to %s: %w", g.ID, target.Location(), err)
	}
	s.relocate(oldDir, target)

	payload, err := Encode(g)
	if err != nil {
		return fmt.Errorf("update %s: %w: %v", g.ID, ErrPartialUpdate, err)
	}
	meta := target.GetResource(s.layout.MetadataFile)
	if err := meta.Write(payload); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action":   "group_update",
			"group_id": g.ID,
			"location": target.Location(),
		}).Warn("group directory moved but metadata is stale")
		return fmt.Errorf("update %s: %w: %v", g.ID, ErrPartialUpdate, err)
	}

	s.mu.Lock()
	s.mappings[g.ID] = meta
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"action":   "group_update",
		"group_id": g.ID,
		"from":     oldDir.Location(),
		"to":       target.Location(),
	}).Debug("group updated")
	return nil
}

// relocate 把位于 oldDir 子树中的缓存位置改写到 newDir 下，覆盖被移动分组的所有子孙。
func (s *Store) relocate(oldDir, newDir resource.Resource) {
	if oldDir.Location() == newDir.Location() {
		return
	}
	prefix := oldDir.Location() + "/"

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, loc := range s.mappings {
		if !strings.HasPrefix(loc.Location(), prefix) {
			continue
		}
		segments := strings.Split(strings.TrimPrefix(loc.Location(), prefix), "/")
		cur := newDir
		for _, seg := range segments[:len(segments)-1] {
			cur = cur.GetDirectory(seg)
		}
		s.mappings[id] = cur.GetResource(segments[len(segments)-1])
	}
}

// Delete 只清除位置缓存，总是成功。物理删除需调用方先通过 GroupResource 完成。
func (s *Store) Delete(groupID string) {
	s.mu.Lock()
	delete(s.mappings, groupID)
	s.mu.Unlock()
}

// Exists 判断 g 的目标目录（父目录 + 名称）是否已被占用，不修改任何缓存。
func (s *Store) Exists(g Group) bool {
	return s.targetDirectory(g).Exists()
}

// ContainsAPIGroup 判断 groupID 是否为根节点或最近一次加载的接口分组。
func (s *Store) ContainsAPIGroup(groupID string) bool {
	if groupID == RootID {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.apiCache[groupID]
	return ok
}

// ReadGroup 读取并解析一个元数据文件。
func (s *Store) ReadGroup(meta resource.Resource) (Group, error) {
	data, err := meta.Read()
	if err != nil {
		return Group{}, err
	}
	g, err := Decode(data)
	if err != nil {
		return Group{}, fmt.Errorf("%s: %w", meta.Location(), err)
	}
	return g, nil
}

// GroupResource 返回分组自身的目录；根节点、空 ID 与未缓存的分组返回 false。
func (s *Store) GroupResource(groupID string) (resource.Resource, bool) {
	if groupID == "" || groupID == RootID {
		return nil, false
	}
	s.mu.RLock()
	meta, ok := s.mappings[groupID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return meta.Parent(), true
}

// Stats 汇总缓存规模，供诊断接口使用。
type Stats struct {
	Locations      int `json:"locations"`
	APIGroups      int `json:"api_groups"`
	FunctionGroups int `json:"function_groups"`
}

// Stats 返回当前缓存规模。
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Locations:      len(s.mappings),
		APIGroups:      len(s.apiCache),
		FunctionGroups: len(s.functionCache),
	}
}
