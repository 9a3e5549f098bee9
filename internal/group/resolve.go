package group

import (
	"regexp"
	"strings"
)

var repeatedSlashes = regexp.MustCompile(`/+`)

// lookupLocked 先查函数分组再查接口分组，两个命名空间共享 ID 空间，顺序固定。调用方需持有读锁。
func (s *Store) lookupLocked(groupID string) (Group, bool) {
	if g, ok := s.functionCache[groupID]; ok {
		return g, true
	}
	g, ok := s.apiCache[groupID]
	return g, ok
}

// ancestry 从 groupID 向上收集分组直到 RootID；链路中断或成环时返回 false。
// 返回顺序为从叶到根。
func (s *Store) ancestry(groupID string) ([]Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []Group
	seen := make(map[string]struct{})
	cursor := groupID
	for {
		g, ok := s.lookupLocked(cursor)
		if !ok {
			break
		}
		if _, loop := seen[cursor]; loop {
			return nil, false
		}
		seen[cursor] = struct{}{}
		chain = append(chain, g)
		cursor = g.ParentID
	}
	// 需要走到根节点，否则说明中间的分组已被删除
	if cursor != RootID {
		return nil, false
	}
	return chain, true
}

// FullPath 拼接从顶层到 groupID 的 Path 片段并合并重复的 "/"；祖先链断裂时返回 false。
func (s *Store) FullPath(groupID string) (string, bool) {
	chain, ok := s.ancestry(groupID)
	if !ok {
		return "", false
	}
	var b strings.Builder
	for i := len(chain) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(chain[i].Path)
	}
	return repeatedSlashes.ReplaceAllString(b.String(), "/"), true
}

// FullName 以 "/" 连接从顶层到 groupID 的名称；空 ID 与根节点返回空字符串。
func (s *Store) FullName(groupID string) (string, bool) {
	if groupID == "" || groupID == RootID {
		return "", true
	}
	chain, ok := s.ancestry(groupID)
	if !ok {
		return "", false
	}
	names := make([]string, len(chain))
	for i, g := range chain {
		names[len(chain)-1-i] = g.Name
	}
	return strings.Join(names, "/"), true
}
