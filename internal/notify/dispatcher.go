package notify

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher 是默认的 Service 实现：为通知补全来源与时间后
// 按键顺序同步调用所有已注册监听器，日志输出由 LogListener 负责。监听器 panic 会被恢复并记录，不影响其它监听器。
type Dispatcher struct {
	instanceID string
	logger     *logrus.Logger
	now        func() time.Time
}

// NewDispatcher 创建以 instanceID 作为通知来源的分发器。
func NewDispatcher(instanceID string, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Dispatcher{
		instanceID: instanceID,
		logger:     logger,
		now:        time.Now,
	}
}

// InstanceID 返回通知来源标识。
func (d *Dispatcher) InstanceID() string {
	return d.instanceID
}

// SendNotify 实现 Service。
func (d *Dispatcher) SendNotify(n Notify) {
	if n.From == "" {
		n.From = d.instanceID
	}
	if n.Time == 0 {
		n.Time = d.now().UnixMilli()
	}

	for _, key := range Keys() {
		listener, ok := Fetch(key)
		if !ok {
			continue
		}
		d.deliver(key, listener, n)
	}
}

func (d *Dispatcher) deliver(key string, listener Listener, n Notify) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"action":   "group_notify",
				"listener": key,
				"group_id": n.ID,
				"panic":    r,
			}).Error("notify listener panicked")
		}
	}()
	listener(n)
}
