// Package cmd 提供 Satellite 命令行入口
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"letmego-core/internal/config/loader"
	"letmego-core/internal/config/schema"
	"letmego-core/internal/config/source"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/version"
)

// 全局标志
var (
	anchorAddr string
	transport  string
	configFile string
	logFile    string
	deviceName string
	deviceType string
)

var rootCmd = &cobra.Command{
	Use:   "letmego",
	Short: "LetMeGo Satellite - connect this device to a LetMeStay Anchor",
	Long: `LetMeGo pairs this device with an Anchor using the short
connection key shown on the Anchor screen.

Quick Start:
  letmego                     Start the interactive CLI
  letmego connect 7K3P9Q      Connect with a key and stay connected
  letmego -a 192.168.1.20:51820 connect`,
	Version:       version.Get().String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd.Context(), "")
	},
}

// Execute 执行根命令
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			corelog.Errorf("FATAL: main goroutine panic recovered: %v", r)
			fmt.Fprintf(os.Stderr, "\nPANIC: %v\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&anchorAddr, "anchor", "a", "", "Anchor address (e.g., 192.168.1.20:51820)")
	rootCmd.PersistentFlags().StringVarP(&transport, "transport", "t", "", "Transport protocol: tcp/websocket/quic/kcp")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logFile, "log", "", "Log file path")
	rootCmd.PersistentFlags().StringVarP(&deviceName, "name", "n", "", "Device name shown on the Anchor")
	rootCmd.PersistentFlags().StringVar(&deviceType, "device", "", "Device type: laptop/phone/desktop")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig 加载配置，命令行参数作为最高优先级的配置源参与校验
func loadConfig() (*schema.Root, error) {
	flags := source.NewFuncSource("flags", source.PriorityFlags, func(cfg *schema.Root) error {
		applyFlags(cfg)
		return nil
	})
	return loader.Load(configFile, "satellite", flags)
}

func applyFlags(root *schema.Root) {
	if anchorAddr != "" {
		root.Satellite.AnchorAddress = anchorAddr
	}
	if transport != "" {
		root.Satellite.Protocol = normalizeProtocol(transport)
	}
	if deviceName != "" {
		root.Satellite.Name = deviceName
	}
	if deviceType != "" {
		root.Satellite.DeviceType = deviceType
	}
	if logFile != "" {
		root.Log.File = logFile
	}
}

// normalizeProtocol 接受常见别名
func normalizeProtocol(p string) string {
	switch p {
	case "ws", "wss":
		return schema.ProtocolWebSocket
	case "udp":
		return schema.ProtocolKCP
	default:
		return p
	}
}
