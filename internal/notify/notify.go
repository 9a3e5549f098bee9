// Package notify 负责分组变更通知：路由在变更成功后发送 Notify，
// Dispatcher 补全来源实例与时间戳，再分发给所有已注册的监听器。
package notify

import "github.com/any-hub/groupstore/internal/group"

// Action 描述变更类型。
type Action string

const (
	ActionSave   Action = "save"
	ActionMove   Action = "move"
	ActionDelete Action = "delete"
)

// Notify 是一次分组变更通知。
type Notify struct {
	// From 为发出通知的实例标识，由 Dispatcher 填充。
	From   string     `json:"from"`
	ID     string     `json:"id"`
	Action Action     `json:"action"`
	Type   group.Type `json:"type"`
	// Time 为毫秒时间戳，为 0 时由 Dispatcher 填充。
	Time int64 `json:"time"`
}

// Service 发送变更通知。
type Service interface {
	SendNotify(n Notify)
}

// Listener 接收分发后的通知。
type Listener func(n Notify)
