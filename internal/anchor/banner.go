package anchor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"letmego-core/internal/core/safe"
	"letmego-core/internal/pairing"
	"letmego-core/internal/version"
)

const (
	defaultBannerWidth = 60
	maxBannerWidth     = 80
	dashboardBuffer    = 32
)

var (
	bannerCyan  = color.New(color.FgCyan).SprintFunc()
	bannerBold  = color.New(color.Bold).SprintFunc()
	bannerGreen = color.New(color.FgGreen).SprintFunc()
	bannerRed   = color.New(color.FgRed).SprintFunc()
	bannerWarn  = color.New(color.FgYellow).SprintFunc()
	bannerFaint = color.New(color.Faint).SprintFunc()
	bannerKey   = color.New(color.FgHiWhite, color.Bold).SprintFunc()
)

// View 看板一次渲染所需的快照
type View struct {
	AnchorName string
	Key        string
	KeyExpires time.Time
	Listeners  []ListenerInfo
	Management string
	Sessions   []pairing.SessionInfo
}

// Dashboard 终端看板：连接密钥、监听端口与会话列表
type Dashboard struct {
	mu    sync.Mutex
	out   io.Writer
	width int
	clear bool
}

// NewDashboard 创建看板，out 为终端时按终端宽度排版并在每次渲染前清屏
func NewDashboard(out io.Writer) *Dashboard {
	d := &Dashboard{out: out, width: defaultBannerWidth}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		d.clear = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 4 {
			d.width = min(w-4, maxBannerWidth)
		}
	}
	return d
}

// Render 输出一帧看板
func (d *Dashboard) Render(v View) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	if d.clear {
		b.WriteString("\033[2J\033[H")
	}
	d.writeHeader(&b, v)
	d.writeKey(&b, v)
	d.writeSessions(&b, v)
	d.writeFooter(&b, v)
	_, _ = io.WriteString(d.out, b.String())
}

func (d *Dashboard) rule(b *strings.Builder, ch string) {
	b.WriteString(bannerFaint("  " + strings.Repeat(ch, d.width)))
	b.WriteString("\n")
}

func (d *Dashboard) writeHeader(b *strings.Builder, v View) {
	b.WriteString("\n")
	fmt.Fprintf(b, "  %s  %s\n", bannerCyan(bannerBold("LetMeStay")), bannerFaint(version.Short()))
	fmt.Fprintf(b, "  %-14s %s\n", bannerBold("Anchor:"), v.AnchorName)
	d.rule(b, "─")
}

func (d *Dashboard) writeKey(b *strings.Builder, v View) {
	b.WriteString(bannerBold("  Connection Key") + "\n\n")
	if v.Key == "" {
		fmt.Fprintf(b, "      %s\n\n", bannerFaint("no active key"))
		return
	}
	fmt.Fprintf(b, "      %s\n", bannerKey(spaced(v.Key)))
	if !v.KeyExpires.IsZero() {
		fmt.Fprintf(b, "      %s\n", bannerFaint("expires "+v.KeyExpires.Format("15:04:05")))
	}
	b.WriteString("\n")
}

func (d *Dashboard) writeSessions(b *strings.Builder, v View) {
	fmt.Fprintf(b, "  %s %s\n", bannerBold("Connected Devices"), bannerFaint(fmt.Sprintf("(%d)", len(v.Sessions))))
	d.rule(b, "─")
	if len(v.Sessions) == 0 {
		fmt.Fprintf(b, "  %s\n", bannerFaint("Waiting for a Satellite to connect..."))
	}
	for _, s := range v.Sessions {
		fmt.Fprintf(b, "  %s %-20s %-8s %s\n", stateDot(s.State), truncate(s.Name, 20), s.DeviceType, latency(s))
	}
	b.WriteString("\n")
}

func (d *Dashboard) writeFooter(b *strings.Builder, v View) {
	d.rule(b, "━")
	if port := primaryPort(v.Listeners); port != "" {
		fmt.Fprintf(b, "  %s\n", bannerFaint("Listening on port "+port))
	}
	for _, l := range v.Listeners {
		fmt.Fprintf(b, "  %s\n", bannerFaint(fmt.Sprintf("%-10s %s", strings.ToUpper(l.Protocol), l.Address)))
	}
	if v.Management != "" {
		fmt.Fprintf(b, "  %s\n", bannerFaint("Dashboard API http://"+v.Management+"/api"))
	}
}

func stateDot(state string) string {
	switch state {
	case "Established":
		return bannerGreen("●")
	case "Degraded":
		return bannerWarn("●")
	case "Closed":
		return bannerRed("●")
	default:
		return bannerFaint("○")
	}
}

func latency(s pairing.SessionInfo) string {
	switch s.State {
	case "Established", "Degraded":
		return fmt.Sprintf("%d ms", s.LatencyMs)
	default:
		return bannerFaint(s.State)
	}
}

// spaced 把 "7K3P9Q" 显示为 "7 K 3 P 9 Q"
func spaced(key string) string {
	return strings.Join(strings.Split(key, ""), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// primaryPort TCP 优先，其次第一个监听器的端口
func primaryPort(listeners []ListenerInfo) string {
	var port string
	for _, l := range listeners {
		_, p, err := net.SplitHostPort(strings.SplitN(l.Address, "/", 2)[0])
		if err != nil {
			continue
		}
		if l.Protocol == "tcp" {
			return p
		}
		if port == "" {
			port = p
		}
	}
	return port
}

// View 当前看板快照
func (a *App) View() View {
	v := View{
		AnchorName: a.root.Anchor.Name,
		Listeners:  a.Listeners(),
		Sessions:   a.service.ListSessions(),
	}
	if key, err := a.service.CurrentKey(); err == nil {
		v.Key = key.Value
		v.KeyExpires = key.ExpiresAt
	}
	if a.api != nil {
		if addr := a.api.Addr(); addr != nil {
			v.Management = addr.String()
		}
	}
	return v
}

// AttachDashboard 立即渲染一次，之后每个配对事件后重新渲染
// 渲染在独立 goroutine 中进行，不阻塞事件发布方
func (a *App) AttachDashboard(ctx context.Context, d *Dashboard) error {
	ch, err := a.service.Events().Forward(ctx, "", dashboardBuffer)
	if err != nil {
		return err
	}
	d.Render(a.View())
	safe.GoWithContext(ctx, "anchor-dashboard", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				// 合并积压的事件，只渲染最新状态
				for drained := false; !drained; {
					select {
					case _, ok = <-ch:
						if !ok {
							return
						}
					default:
						drained = true
					}
				}
				d.Render(a.View())
			}
		}
	})
	return nil
}
