package metrics

// Metrics 指标收集接口
// 默认使用进程内实现，由管理 API 的 /api/stats 读取
type Metrics interface {
	IncrementCounter(name string, labels map[string]string)
	AddCounter(name string, value float64, labels map[string]string)
	GetCounter(name string, labels map[string]string) float64

	SetGauge(name string, value float64, labels map[string]string)
	AddGauge(name string, delta float64, labels map[string]string)
	GetGauge(name string, labels map[string]string) float64

	ObserveHistogram(name string, value float64, labels map[string]string)

	// Snapshot 导出当前全部指标
	Snapshot() Snapshot
}

// Summary 直方图摘要
type Summary struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Mean 平均值
func (s Summary) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Snapshot 指标快照，键为 name{label=value}
type Snapshot struct {
	Counters   map[string]float64 `json:"counters"`
	Gauges     map[string]float64 `json:"gauges"`
	Histograms map[string]Summary `json:"histograms"`
}
