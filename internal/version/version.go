// Package version 构建版本信息，发布构建时通过 -ldflags 注入
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Version 版本号，-ldflags "-X letmego-core/internal/version.Version=1.2.0"
	Version = "dev"

	// BuildTime 构建时间
	BuildTime = ""

	// GitCommit 提交哈希
	GitCommit = ""
)

// Info 版本详情
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get 返回版本详情，未注入提交哈希时尝试读取 VCS 构建信息
func Get() Info {
	info := Info{
		Version:   strings.TrimPrefix(Version, "v"),
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.GitCommit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.GitCommit = s.Value
				}
			}
		}
	}
	return info
}

// Short 简短版本号，如 v1.2.0
func Short() string {
	return "v" + strings.TrimPrefix(Version, "v")
}

// String 完整版本描述
func (i Info) String() string {
	s := "v" + i.Version
	if i.BuildTime != "" {
		s += " (built " + i.BuildTime + ")"
	}
	if i.GitCommit != "" {
		commit := i.GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		s += " commit " + commit
	}
	return fmt.Sprintf("%s %s %s", s, i.GoVersion, i.Platform)
}
