// Package idgen 生成会话等运行期对象的标识符
package idgen

import (
	"github.com/google/uuid"
)

// ID 前缀
const (
	PrefixSessionID = "sess_"
)

// Generator ID 生成器接口
type Generator interface {
	Generate() (string, error)
}

// UUIDGenerator 基于 UUID v7 的 ID 生成器
// v7 时间有序，List 按 ID 排序即可得到创建顺序
type UUIDGenerator struct {
	prefix string
}

// NewUUIDGenerator 创建 UUID 生成器
func NewUUIDGenerator(prefix string) *UUIDGenerator {
	return &UUIDGenerator{prefix: prefix}
}

// Generate 生成唯一 ID
func (g *UUIDGenerator) Generate() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		// 回退到 UUID v4
		id = uuid.New()
	}
	return g.prefix + id.String(), nil
}

// NewSessionID 生成会话 ID
func NewSessionID() string {
	id, _ := sessionIDs.Generate()
	return id
}

var sessionIDs = NewUUIDGenerator(PrefixSessionID)

var _ Generator = (*UUIDGenerator)(nil)
