package group

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/groupstore/internal/resource"
)

// GroupList 强制刷新命名空间根目录后列出全部分组，并登记各自的元数据位置。
func (s *Store) GroupList(t Type) ([]Group, error) {
	groups, locations, err := s.load(t, true)
	if err != nil {
		return nil, err
	}
	s.register(locations)
	return groups, nil
}

// CachedGroupList 与 GroupList 相同，但不要求后端重新加载子树，适合频繁读取。
func (s *Store) CachedGroupList(t Type) ([]Group, error) {
	groups, locations, err := s.load(t, false)
	if err != nil {
		return nil, err
	}
	s.register(locations)
	return groups, nil
}

// APIGroupTree 重新加载接口分组并返回树。
func (s *Store) APIGroupTree() (*TreeNode[Group], error) {
	return s.groupTree(TypeAPI)
}

// FunctionGroupTree 重新加载函数分组并返回树。
func (s *Store) FunctionGroupTree() (*TreeNode[Group], error) {
	return s.groupTree(TypeFunction)
}

// GroupTree 按类型分派到 APIGroupTree/FunctionGroupTree。
func (s *Store) GroupTree(t Type) (*TreeNode[Group], error) {
	return s.groupTree(t)
}

// groupTree 在同一把锁内完成：登记位置、整体替换命名空间扁平缓存、清理失效位置，
// 并发的路径解析不会看到只更新了一半的缓存。
func (s *Store) groupTree(t Type) (*TreeNode[Group], error) {
	groups, locations, err := s.load(t, true)
	if err != nil {
		return nil, err
	}

	flat := make(map[string]Group, len(groups))
	for _, g := range groups {
		flat[g.ID] = g
	}

	s.mu.Lock()
	for id, meta := range locations {
		s.mappings[id] = meta
	}
	if t == TypeAPI {
		s.apiCache = flat
	} else {
		s.functionCache = flat
	}
	removed := s.reconcileLocked()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"action":  "group_tree",
		"type":    t.Label(),
		"groups":  len(groups),
		"evicted": removed,
	}).Debug("group tree loaded")

	return BuildTree(groups), nil
}

// reconcileLocked 删除不在任一命名空间扁平缓存中的位置，返回删除数量。调用方需持有写锁。
func (s *Store) reconcileLocked() int {
	removed := 0
	for id := range s.mappings {
		_, inAPI := s.apiCache[id]
		_, inFunction := s.functionCache[id]
		if !inAPI && !inFunction {
			delete(s.mappings, id)
			removed++
		}
	}
	return removed
}

func (s *Store) register(locations map[string]resource.Resource) {
	s.mu.Lock()
	for id, meta := range locations {
		s.mappings[id] = meta
	}
	s.mu.Unlock()
}

// load 枚举命名空间下所有含元数据文件的目录。无法解析或 ID 重复的记录会被跳过并记录告警。
func (s *Store) load(t Type, refresh bool) ([]Group, map[string]resource.Resource, error) {
	root := s.NamespaceRoot(t)
	if refresh {
		if err := root.ReadAll(); err != nil {
			return nil, nil, fmt.Errorf("load %s groups: %w", t.Label(), err)
		}
	}
	dirs, err := root.Dirs()
	if err != nil {
		return nil, nil, fmt.Errorf("list %s groups: %w", t.Label(), err)
	}

	groups := make([]Group, 0, len(dirs))
	locations := make(map[string]resource.Resource, len(dirs))
	for _, dir := range dirs {
		meta := dir.GetResource(s.layout.MetadataFile)
		if !meta.Exists() {
			continue
		}
		g, err := s.ReadGroup(meta)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"action":   "group_load",
				"location": meta.Location(),
			}).Warn(err.Error())
			continue
		}
		if prev, dup := locations[g.ID]; dup {
			s.logger.WithFields(logrus.Fields{
				"action":   "group_load",
				"group_id": g.ID,
				"kept":     prev.Location(),
				"skipped":  meta.Location(),
			}).Warn("duplicate group id")
			continue
		}
		locations[g.ID] = meta
		groups = append(groups, g)
	}
	return groups, locations, nil
}
