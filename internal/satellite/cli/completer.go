package cli

import (
	"github.com/chzyer/readline"
)

// BuildCompleter 构建 readline 命令补全
func BuildCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("status"),
		readline.PcItem("clear"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	)
}
