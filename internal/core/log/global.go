package log

import (
	"fmt"
	"os"
)

// 包级快捷函数，均转发到 Default()

func Debugf(format string, args ...interface{}) { Default().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Default().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Default().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Default().Errorf(format, args...) }

// Component 返回带 component 字段的默认 Logger
func Component(name string) Logger {
	return Default().WithField("component", name)
}

// Fatalf 记录错误后退出进程。
// 看板模式下控制台输出被关闭，因此同时写一份到 stderr；日志文件在退出前关闭。
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	Default().Errorf("%s", msg)
	fmt.Fprintln(os.Stderr, msg)
	closeLogFile()
	os.Exit(1)
}

// closeLogFile 关闭 Configure 打开的日志文件
func closeLogFile() {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	if currentLogFile != nil {
		_ = currentLogFile.Sync()
		_ = currentLogFile.Close()
		currentLogFile = nil
	}
}
