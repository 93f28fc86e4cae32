// Package cli 是 Satellite 的交互式命令行界面
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/pairing/keygen"
	"letmego-core/internal/pairing/session"
	"letmego-core/internal/satellite"
)

const prompt = "\033[36mletmego>\033[0m "

// Connector CLI 所需的客户端能力
type Connector interface {
	AttemptConnection(ctx context.Context, key string) (satellite.Status, error)
	Disconnect() error
	Status() satellite.Status
	OnStateChange(fn func(session.Change))
}

// CLI 交互式命令行
type CLI struct {
	client    Connector
	ctx       context.Context
	out       *Output
	keyLength int
	rl        *readline.Instance

	disconnecting atomic.Bool
}

// New 创建不绑定终端的 CLI，命令通过 Execute 执行
func New(ctx context.Context, client Connector, out *Output, keyLength int) *CLI {
	if keyLength <= 0 {
		keyLength = keygen.DefaultLength
	}
	c := &CLI{client: client, ctx: ctx, out: out, keyLength: keyLength}
	client.OnStateChange(c.onStateChange)
	return c
}

// NewInteractive 创建交互式 CLI，stdin 必须是终端
func NewInteractive(ctx context.Context, client Connector, keyLength int) (*CLI, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return nil, errors.New("stdin is not a terminal (TTY required for interactive CLI)")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     os.ExpandEnv("$HOME/.letmego_history"),
		HistoryLimit:    200,
		AutoComplete:    BuildCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}

	c := New(ctx, client, NewOutput(rl.Stdout(), !isatty.IsTerminal(os.Stdout.Fd())), keyLength)
	c.rl = rl
	return c, nil
}

// Run 读取并执行命令，直到 exit、EOF 或 ctx 取消
func (c *CLI) Run() {
	defer c.rl.Close()
	c.printWelcome()

	for c.ctx.Err() == nil {
		line, err := c.rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if len(line) == 0 {
				c.out.Info("Use 'exit' to quit")
			}
			continue
		case errors.Is(err, io.EOF):
			return
		case err != nil:
			corelog.Errorf("CLI: readline error: %v", err)
			return
		}

		if c.Execute(line) {
			return
		}
	}
}

func (c *CLI) printWelcome() {
	c.out.Header("LetMeGo Satellite")
	c.out.Plain("  Type 'connect <KEY>' with the key shown on the Anchor, 'help' for commands")
	c.out.Plain("")
}

// Execute 执行一行命令，返回 true 表示退出
func (c *CLI) Execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "help", "h", "?":
		c.cmdHelp()
	case "connect", "conn", "c":
		c.cmdConnect(parts[1:])
	case "disconnect", "dc":
		c.cmdDisconnect()
	case "status", "st":
		c.out.Status(c.client.Status())
	case "clear", "cls":
		c.out.Plain("\033[H\033[2J")
	case "exit", "quit", "q":
		if c.client.Status().State.IsLive() {
			c.cmdDisconnect()
		}
		return true
	default:
		c.out.Error("Unknown command: %s", parts[0])
		c.out.Info("Type 'help' to see available commands")
	}
	return false
}

func (c *CLI) cmdHelp() {
	c.out.Plain("  connect <KEY>   connect to the Anchor with its connection key")
	c.out.Plain("  disconnect      end the current session")
	c.out.Plain("  status          show connection state and latency")
	c.out.Plain("  clear           clear the screen")
	c.out.Plain("  exit            disconnect and quit")
}

func (c *CLI) cmdConnect(args []string) {
	input := strings.Join(args, "")
	if input == "" && c.rl != nil {
		line, err := c.promptInput("Connection key: ")
		if err != nil {
			return
		}
		input = line
	}

	key := keygen.Normalize(input, c.keyLength)
	if len(key) != c.keyLength {
		c.out.Error("A connection key has %d letters or digits", c.keyLength)
		return
	}

	c.out.Info("Connecting with key %s...", key)
	st, err := c.client.AttemptConnection(c.ctx, key)
	if err != nil {
		c.out.Error("%s", Describe(err))
		return
	}
	c.out.Success("Connected to %s", st.AnchorName)
}

func (c *CLI) cmdDisconnect() {
	if !c.client.Status().State.IsLive() {
		c.out.Warning("Not connected")
		return
	}
	c.disconnecting.Store(true)
	defer c.disconnecting.Store(false)
	if err := c.client.Disconnect(); err != nil {
		c.out.Error("%s", Describe(err))
		return
	}
	c.out.Success("Disconnected")
}

func (c *CLI) promptInput(p string) (string, error) {
	c.rl.SetPrompt(p)
	defer c.rl.SetPrompt(prompt)
	line, err := c.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// onStateChange 会话状态变化提示，本地断开由 disconnect 命令自己输出
func (c *CLI) onStateChange(ch session.Change) {
	if c.disconnecting.Load() {
		return
	}
	switch {
	case ch.To == session.StateDegraded:
		c.out.Warning("Connection unstable, waiting for the Anchor...")
	case ch.From == session.StateDegraded && ch.To == session.StateEstablished:
		c.out.Success("Connection recovered")
	case ch.To == session.StateClosed && ch.From.IsLive():
		c.out.Error("Session closed: %s", describeCode(ch.Snapshot.CloseReason))
	}
}
