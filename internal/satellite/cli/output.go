package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"letmego-core/internal/pairing/session"
	"letmego-core/internal/satellite"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorWarning = color.New(color.FgYellow).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
	colorFaint   = color.New(color.Faint).SprintFunc()
)

// Output 终端输出工具
type Output struct {
	w io.Writer
}

// NewOutput 创建输出工具，noColor 为 true 时关闭颜色
func NewOutput(w io.Writer, noColor bool) *Output {
	if noColor {
		color.NoColor = true
	}
	return &Output{w: w}
}

func (o *Output) line(prefix, format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}

// Success 成功消息
func (o *Output) Success(format string, args ...interface{}) {
	o.line(colorSuccess("✔"), format, args...)
}

// Error 错误消息
func (o *Output) Error(format string, args ...interface{}) {
	o.line(colorError("✘"), format, args...)
}

// Warning 警告消息
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(colorWarning("!"), format, args...)
}

// Info 提示消息
func (o *Output) Info(format string, args ...interface{}) {
	o.line(colorInfo("i"), format, args...)
}

// Plain 普通消息
func (o *Output) Plain(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format+"\n", args...)
}

// Header 标题
func (o *Output) Header(title string) {
	fmt.Fprintln(o.w, colorBold(title))
	fmt.Fprintln(o.w, strings.Repeat("━", len([]rune(title))))
}

// stateLabel 按状态着色
func stateLabel(state session.State) string {
	switch state {
	case session.StateEstablished:
		return colorSuccess("Connected")
	case session.StateDegraded:
		return colorWarning("Unstable")
	case session.StatePending, session.StateAuthenticating:
		return colorInfo("Connecting...")
	case session.StateClosed:
		return colorError("Disconnected")
	default:
		return colorFaint("Not connected")
	}
}

// Status 打印连接状态
func (o *Output) Status(st satellite.Status) {
	o.Plain("  %-12s %s", "State:", stateLabel(st.State))
	if st.AnchorName != "" {
		o.Plain("  %-12s %s", "Anchor:", st.AnchorName)
	}
	if st.State.IsLive() {
		o.Plain("  %-12s %d ms", "Latency:", st.LatencyMs)
	}
	if st.State == session.StateClosed && st.CloseReason != "" {
		o.Plain("  %-12s %s", "Reason:", describeCode(st.CloseReason))
	}
	o.Plain("  %-12s %s", "Device ID:", colorFaint(st.Fingerprint))
}
