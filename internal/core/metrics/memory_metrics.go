package metrics

import (
	"sort"
	"strings"
	"sync"
)

// MemoryMetrics 内存指标实现
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*Summary
}

// NewMemoryMetrics 创建内存指标收集器
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*Summary),
	}
}

// IncrementCounter 计数器加一
func (m *MemoryMetrics) IncrementCounter(name string, labels map[string]string) {
	m.AddCounter(name, 1, labels)
}

// AddCounter 计数器增加指定值，负值被忽略
func (m *MemoryMetrics) AddCounter(name string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	key := buildKey(name, labels)
	m.mu.Lock()
	m.counters[key] += value
	m.mu.Unlock()
}

// GetCounter 获取计数器值
func (m *MemoryMetrics) GetCounter(name string, labels map[string]string) float64 {
	key := buildKey(name, labels)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[key]
}

// SetGauge 设置 Gauge 值
func (m *MemoryMetrics) SetGauge(name string, value float64, labels map[string]string) {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.gauges[key] = value
	m.mu.Unlock()
}

// AddGauge Gauge 增减
func (m *MemoryMetrics) AddGauge(name string, delta float64, labels map[string]string) {
	key := buildKey(name, labels)
	m.mu.Lock()
	m.gauges[key] += delta
	m.mu.Unlock()
}

// GetGauge 获取 Gauge 值
func (m *MemoryMetrics) GetGauge(name string, labels map[string]string) float64 {
	key := buildKey(name, labels)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[key]
}

// ObserveHistogram 记录一个观测值
func (m *MemoryMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	key := buildKey(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.histograms[key]
	if !ok {
		m.histograms[key] = &Summary{Count: 1, Sum: value, Min: value, Max: value}
		return
	}
	s.Count++
	s.Sum += value
	if value < s.Min {
		s.Min = value
	}
	if value > s.Max {
		s.Max = value
	}
}

// GetHistogram 获取直方图摘要
func (m *MemoryMetrics) GetHistogram(name string, labels map[string]string) Summary {
	key := buildKey(name, labels)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.histograms[key]; ok {
		return *s
	}
	return Summary{}
}

// Snapshot 导出快照
func (m *MemoryMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Counters:   make(map[string]float64, len(m.counters)),
		Gauges:     make(map[string]float64, len(m.gauges)),
		Histograms: make(map[string]Summary, len(m.histograms)),
	}
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	for k, v := range m.histograms {
		snap.Histograms[k] = *v
	}
	return snap
}

// buildKey 构建指标键名，标签按键名排序
func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

var _ Metrics = (*MemoryMetrics)(nil)
