package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/pairing/keygen"
	"letmego-core/internal/pairing/session"
	"letmego-core/internal/satellite"
	"letmego-core/internal/satellite/cli"
)

var connectCmd = &cobra.Command{
	Use:   "connect [KEY]",
	Short: "Connect to an Anchor with its connection key",
	Long: `Connect to an Anchor with the key shown on its screen.

Without a key the interactive CLI starts. With a key the command stays
in the foreground until the session ends or Ctrl+C is pressed.`,
	Example: `  letmego connect 7K3P9Q
  letmego connect "7k3 p9q" -a 192.168.1.20:51820 -t quic`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd.Context(), strings.Join(args, ""))
	},
}

func runConnect(ctx context.Context, input string) error {
	root, err := loadConfig()
	if err != nil {
		return err
	}

	// 交互模式下日志只写文件，避免打乱命令行输出
	interactive := input == ""
	if interactive {
		root.Log.Console = false
	}
	if _, err := corelog.Configure(root.Log); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeConfigError, "configure logging")
	}

	cfg := satellite.ConfigFromSchema(root)
	cfg.Logger = corelog.Component("satellite")
	client, err := satellite.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	keyLength := root.Pairing.KeyLength
	if interactive {
		c, err := cli.NewInteractive(ctx, client, keyLength)
		if err != nil {
			return err
		}
		c.Run()
		return client.Disconnect()
	}

	out := cli.NewOutput(os.Stdout, !isatty.IsTerminal(os.Stdout.Fd()))
	return connectOnce(ctx, client, out, input, keyLength)
}

// connectOnce 使用给定密钥连接并保持前台运行
func connectOnce(ctx context.Context, client *satellite.Client, out *cli.Output, input string, keyLength int) error {
	if keyLength <= 0 {
		keyLength = keygen.DefaultLength
	}
	key := keygen.Normalize(input, keyLength)
	if len(key) != keyLength {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "a connection key has %d letters or digits", keyLength)
	}

	closed := make(chan session.Change, 1)
	client.OnStateChange(func(ch session.Change) {
		switch ch.To {
		case session.StateDegraded:
			out.Warning("Connection unstable, waiting for the Anchor...")
		case session.StateEstablished:
			if ch.From == session.StateDegraded {
				out.Success("Connection recovered")
			}
		case session.StateClosed:
			select {
			case closed <- ch:
			default:
			}
		}
	})

	out.Info("Connecting with key %s...", key)
	st, err := client.AttemptConnection(ctx, key)
	if err != nil {
		out.Error("%s", cli.Describe(err))
		return err
	}
	out.Success("Connected to %s", st.AnchorName)
	out.Status(st)

	select {
	case <-ctx.Done():
		out.Info("Disconnecting...")
		return client.Disconnect()
	case ch := <-closed:
		if ch.Snapshot.CloseReason == coreerrors.CodeDisconnected {
			out.Info("Disconnected by the Anchor")
			return nil
		}
		err := coreerrors.New(ch.Snapshot.CloseReason, "session closed")
		out.Error("%s", cli.Describe(err))
		return err
	}
}
