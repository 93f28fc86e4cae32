package metrics

// 配对子系统指标名
const (
	MetricSessionsActive     = "sessions_active"
	MetricSessionsClosed     = "sessions_closed_total"
	MetricHandshakeSucceeded = "handshakes_succeeded_total"
	MetricHandshakeFailed    = "handshakes_failed_total"
	MetricHeartbeatRTT       = "heartbeat_rtt_ms"
	MetricKeyRotations       = "key_rotations_total"
	MetricAttemptsLimited    = "attempts_rate_limited_total"
	MetricHostsBanned        = "hosts_banned_total"
	MetricDataDropped        = "data_frames_dropped_total"
)

// SessionOpened 活跃会话数加一
func SessionOpened() {
	GetGlobalMetrics().AddGauge(MetricSessionsActive, 1, nil)
}

// SessionClosed 活跃会话数减一，并按关闭原因计数
func SessionClosed(reason string) {
	m := GetGlobalMetrics()
	m.AddGauge(MetricSessionsActive, -1, nil)
	m.IncrementCounter(MetricSessionsClosed, map[string]string{"reason": reason})
}

// HandshakeSucceeded 握手成功计数
func HandshakeSucceeded() {
	GetGlobalMetrics().IncrementCounter(MetricHandshakeSucceeded, nil)
}

// HandshakeFailed 按错误码计数握手失败
func HandshakeFailed(code string) {
	GetGlobalMetrics().IncrementCounter(MetricHandshakeFailed, map[string]string{"code": code})
}

// ObserveHeartbeatRTT 记录心跳往返时间（毫秒）
func ObserveHeartbeatRTT(ms float64) {
	GetGlobalMetrics().ObserveHistogram(MetricHeartbeatRTT, ms, nil)
}

// KeyRotated 密钥轮换计数
func KeyRotated() {
	GetGlobalMetrics().IncrementCounter(MetricKeyRotations, nil)
}

// AttemptRateLimited 被限流的连接尝试计数
func AttemptRateLimited() {
	GetGlobalMetrics().IncrementCounter(MetricAttemptsLimited, nil)
}

// HostBanned 因连续密钥错误被封禁的主机计数
func HostBanned() {
	GetGlobalMetrics().IncrementCounter(MetricHostsBanned, nil)
}

// DataFrameDropped 接收队列满时丢弃的数据帧计数
func DataFrameDropped() {
	GetGlobalMetrics().IncrementCounter(MetricDataDropped, nil)
}
