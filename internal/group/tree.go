package group

// BuildTree 从扁平列表构建以 RootID 为根的树，不修改入参。
// 祖先链无法到达根的分组（孤儿或成环）不会出现在结果中。
func BuildTree(groups []Group) *TreeNode[Group] {
	root := newNode(Group{ID: RootID, Name: "root"})
	attach(root, groups)
	return root
}

// attach 把 pool 中父节点为 node 的分组挂到 node 下，并依次递归子节点；
// 返回仍未挂载的分组，每一层都严格缩小剩余集合。
func attach(node *TreeNode[Group], pool []Group) []Group {
	rest := make([]Group, 0, len(pool))
	for _, g := range pool {
		if g.ParentID == node.Node.ID {
			node.Children = append(node.Children, newNode(g))
			continue
		}
		rest = append(rest, g)
	}
	for _, child := range node.Children {
		if len(rest) == 0 {
			break
		}
		rest = attach(child, rest)
	}
	return rest
}

func newNode(g Group) *TreeNode[Group] {
	return &TreeNode[Group]{Node: g, Children: make([]*TreeNode[Group], 0)}
}
