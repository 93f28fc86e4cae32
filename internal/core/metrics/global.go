package metrics

import (
	"sync"
)

var (
	globalMetrics Metrics = NewMemoryMetrics()
	globalMu      sync.RWMutex
)

// SetGlobalMetrics 替换全局 Metrics 实例，nil 被忽略
func SetGlobalMetrics(m Metrics) {
	if m == nil {
		return
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics 获取全局 Metrics 实例
func GetGlobalMetrics() Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}
