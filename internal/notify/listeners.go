package notify

import (
	"github.com/sirupsen/logrus"
)

// LogListenerKey 是日志监听器在注册表中的键。
const LogListenerKey = "log"

// LogListener 为每条通知输出一行 group_notify 日志。
func LogListener(logger *logrus.Logger) Listener {
	return func(n Notify) {
		logger.WithFields(logrus.Fields{
			"action":        "group_notify",
			"from":          n.From,
			"group_id":      n.ID,
			"notify_action": string(n.Action),
			"type":          n.Type.Label(),
		}).Info("group change notified")
	}
}

// RegisterLogListener 以 LogListenerKey 注册日志监听器；重复调用时替换为新的 logger。
func RegisterLogListener(logger *logrus.Logger) {
	registry.Store(LogListenerKey, LogListener(logger))
}
