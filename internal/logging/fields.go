package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/groupstore/internal/group"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// GroupFields 提供分组标识、命名空间与父节点字段，供路由与通知日志复用。
func GroupFields(action string, g group.Group) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"group_id":  g.ID,
		"group":     g.Name,
		"type":      g.Type.Label(),
		"parent_id": g.ParentID,
	}
}
