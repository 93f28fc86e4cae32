// Package keygen 生成人类可输入的短配对密钥
//
// 密钥由 crypto/rand 从去除了易混淆字符（0 O 1 I）的字母表中抽取，
// 连续两次生成绝不会得到相同的值。
package keygen

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	coreerrors "letmego-core/internal/core/errors"
)

const (
	// DefaultLength 默认密钥长度
	DefaultLength = 6
	// DefaultCharset 默认字母表，不含 0 O 1 I
	DefaultCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxAttempts = 100
)

// Config 生成器配置
type Config struct {
	Length  int
	Charset string
	Expiry  time.Duration // 0 表示不过期

	Random io.Reader        // 默认 crypto/rand.Reader
	Now    func() time.Time // 默认 time.Now
}

// Generator 连接密钥生成器
type Generator struct {
	length  int
	charset string
	expiry  time.Duration
	random  io.Reader
	now     func() time.Time

	mu       sync.Mutex
	previous string
}

// New 创建生成器，字母表为空、长度非正或字母表有重复字符时返回 CONFIG_ERROR
func New(cfg Config) (*Generator, error) {
	if cfg.Length == 0 {
		cfg.Length = DefaultLength
	}
	if cfg.Charset == "" {
		cfg.Charset = DefaultCharset
	}
	if cfg.Length < 0 {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "key length must be positive, got %d", cfg.Length)
	}
	if cfg.Expiry < 0 {
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "key expiry must not be negative, got %s", cfg.Expiry)
	}
	seen := make(map[rune]bool, len(cfg.Charset))
	for _, ch := range cfg.Charset {
		if !isKeyChar(ch) {
			return nil, coreerrors.Newf(coreerrors.CodeConfigError, "charset contains invalid character %q", ch)
		}
		if seen[ch] {
			return nil, coreerrors.Newf(coreerrors.CodeConfigError, "charset contains duplicate character %q", ch)
		}
		seen[ch] = true
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Generator{
		length:  cfg.Length,
		charset: cfg.Charset,
		expiry:  cfg.Expiry,
		random:  cfg.Random,
		now:     cfg.Now,
	}, nil
}

// Generate 生成一个新密钥，保证与上一次生成的值不同
// 返回的密钥状态为 Open，Generation 由注册表分配
func (g *Generator) Generate() (ConnectionKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		value, err := g.draw()
		if err != nil {
			return ConnectionKey{}, err
		}
		if value == g.previous {
			continue
		}
		g.previous = value

		now := g.now()
		key := ConnectionKey{
			Value:     value,
			CreatedAt: now,
			Status:    StatusOpen,
		}
		if g.expiry > 0 {
			key.ExpiresAt = now.Add(g.expiry)
		}
		return key, nil
	}

	return ConnectionKey{}, coreerrors.Newf(coreerrors.CodeResourceExhausted,
		"failed to generate a fresh key after %d attempts", maxAttempts)
}

func (g *Generator) draw() (string, error) {
	n := big.NewInt(int64(len(g.charset)))
	buf := make([]byte, g.length)
	for i := range buf {
		idx, err := rand.Int(g.random, n)
		if err != nil {
			return "", coreerrors.Wrap(err, coreerrors.CodeInternal, "failed to generate random number")
		}
		buf[i] = g.charset[idx.Int64()]
	}
	return string(buf), nil
}

// Normalize 转大写并去除非字母数字字符，maxLen > 0 时截断
func Normalize(input string, maxLen int) string {
	var b strings.Builder
	for _, ch := range strings.ToUpper(input) {
		if !isKeyChar(ch) {
			continue
		}
		if maxLen > 0 && b.Len() >= maxLen {
			break
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Entropy 返回可能的密钥组合数，供统计接口展示密钥空间
func (g *Generator) Entropy() *big.Int {
	return new(big.Int).Exp(big.NewInt(int64(len(g.charset))), big.NewInt(int64(g.length)), nil)
}

// Length 密钥长度
func (g *Generator) Length() int { return g.length }

func isKeyChar(ch rune) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
