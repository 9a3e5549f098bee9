package group

import (
	"fmt"
	"strings"
)

// Type 区分分组所属命名空间，取值沿用持久化格式中的 "1"/"2"。
type Type string

const (
	TypeAPI      Type = "1"
	TypeFunction Type = "2"
)

// RootID 是顶层分组的父节点标识。
const RootID = "0"

// ParseType 接受持久化取值或可读名称（api/function）。
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TypeAPI), "api":
		return TypeAPI, nil
	case string(TypeFunction), "function":
		return TypeFunction, nil
	default:
		return "", fmt.Errorf("unsupported group type: %q", raw)
	}
}

// Label 返回命名空间的可读名称，用于日志与诊断输出。
func (t Type) Label() string {
	if t == TypeAPI {
		return "api"
	}
	return "function"
}

// Group 描述一个分组节点；Name 同时作为目录名，Path 是路由前缀片段。
type Group struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       Type   `json:"type"`
	ParentID   string `json:"parentId"`
	Path       string `json:"path,omitempty"`
	CreateTime int64  `json:"createTime,omitempty"`
	UpdateTime int64  `json:"updateTime,omitempty"`
	CreateBy   string `json:"createBy,omitempty"`
	UpdateBy   string `json:"updateBy,omitempty"`
}

// TreeNode 是有序多叉树节点。
type TreeNode[T any] struct {
	Node     T              `json:"node"`
	Children []*TreeNode[T] `json:"children"`
}

// Walk 按先序遍历访问每个节点，fn 返回 false 时停止深入该子树。
func (n *TreeNode[T]) Walk(fn func(node *TreeNode[T], depth int) bool) {
	n.walk(fn, 0)
}

func (n *TreeNode[T]) walk(fn func(node *TreeNode[T], depth int) bool, depth int) {
	if n == nil || !fn(n, depth) {
		return
	}
	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// Layout 描述工作区内的目录约定。
type Layout struct {
	APIDir       string
	FunctionDir  string
	MetadataFile string
}

// DefaultLayout 返回 api/、function/ 两个命名空间根目录与 group.json 元数据文件。
func DefaultLayout() Layout {
	return Layout{
		APIDir:       "api",
		FunctionDir:  "function",
		MetadataFile: "group.json",
	}
}

func (l Layout) withDefaults() Layout {
	def := DefaultLayout()
	if strings.TrimSpace(l.APIDir) == "" {
		l.APIDir = def.APIDir
	}
	if strings.TrimSpace(l.FunctionDir) == "" {
		l.FunctionDir = def.FunctionDir
	}
	if strings.TrimSpace(l.MetadataFile) == "" {
		l.MetadataFile = def.MetadataFile
	}
	return l
}
