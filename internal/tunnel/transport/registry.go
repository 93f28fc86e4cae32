// Package transport 传输层协议注册表
// 每种协议同时提供拨号（Satellite）与监听（Anchor）两侧实现，
// 支持通过 build tags 选择性编译协议支持
package transport

import (
	"context"
	"net"
	"sort"
	"sync"

	coreerrors "letmego-core/internal/core/errors"
)

// Dialer 是协议拨号器
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// ListenFunc 是协议监听器构造函数
type ListenFunc func(ctx context.Context, address string) (net.Listener, error)

// ProtocolInfo 协议信息
type ProtocolInfo struct {
	Name     string     // 协议名称: tcp, websocket, quic, kcp
	Priority int        // 优先级（数字越小优先级越高）
	Dialer   Dialer     // 拨号函数
	Listen   ListenFunc // 监听函数
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*ProtocolInfo)
)

// RegisterProtocol 注册协议
func RegisterProtocol(name string, priority int, dialer Dialer, listen ListenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = &ProtocolInfo{
		Name:     name,
		Priority: priority,
		Dialer:   dialer,
		Listen:   listen,
	}
}

// GetProtocol 获取协议信息
func GetProtocol(name string) (*ProtocolInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[name]
	return info, ok
}

// GetRegisteredProtocols 获取所有已注册的协议（按优先级排序）
func GetRegisteredProtocols() []*ProtocolInfo {
	registryMu.RLock()
	protocols := make([]*ProtocolInfo, 0, len(registry))
	for _, info := range registry {
		protocols = append(protocols, info)
	}
	registryMu.RUnlock()

	sort.SliceStable(protocols, func(i, j int) bool {
		if protocols[i].Priority != protocols[j].Priority {
			return protocols[i].Priority < protocols[j].Priority
		}
		return protocols[i].Name < protocols[j].Name
	})
	return protocols
}

// IsProtocolAvailable 检查协议是否可用
func IsProtocolAvailable(name string) bool {
	_, ok := GetProtocol(name)
	return ok
}

// GetAvailableProtocolNames 获取所有可用协议名称
func GetAvailableProtocolNames() []string {
	protocols := GetRegisteredProtocols()
	names := make([]string, len(protocols))
	for i, p := range protocols {
		names[i] = p.Name
	}
	return names
}

// Dial 使用指定协议建立连接
func Dial(ctx context.Context, protocol, address string) (net.Conn, error) {
	info, ok := GetProtocol(protocol)
	if !ok {
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "protocol %q is not available (not compiled in)", protocol)
	}
	conn, err := info.Dialer(ctx, address)
	if err != nil {
		if coreerrors.GetCode(err) == coreerrors.CodeInternal {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "%s dial %s failed", protocol, address)
		}
		return nil, err
	}
	return conn, nil
}

// Listen 使用指定协议开始监听
func Listen(ctx context.Context, protocol, address string) (net.Listener, error) {
	info, ok := GetProtocol(protocol)
	if !ok || info.Listen == nil {
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "protocol %q is not available (not compiled in)", protocol)
	}
	ln, err := info.Listen(ctx, address)
	if err != nil {
		if coreerrors.GetCode(err) == coreerrors.CodeInternal {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "%s listen on %s failed", protocol, address)
		}
		return nil, err
	}
	return ln, nil
}
