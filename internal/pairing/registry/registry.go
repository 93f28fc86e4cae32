// Package registry 保存 Anchor 当前的连接密钥和全部在途、已建立的会话
//
// 所有操作由同一把互斥锁串行化：密钥轮换与校验、提交互相可线性化。
package registry

import (
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/pairing/keygen"
	"letmego-core/internal/pairing/session"
	"letmego-core/internal/tunnel"
)

// Policy 密钥使用策略
type Policy string

const (
	// PolicyMulti 一个密钥可以建立多个会话
	PolicyMulti Policy = "multi"
	// PolicySingle 一个密钥只能成功校验一次
	PolicySingle Policy = "single"
)

// Config 注册表配置
type Config struct {
	Generator *keygen.Generator
	Policy    Policy
	Now       func() time.Time
	Logger    corelog.Logger
}

// Registry 配对注册表
type Registry struct {
	generator *keygen.Generator
	policy    Policy
	now       func() time.Time
	logger    corelog.Logger

	mu         sync.Mutex
	current    *keygen.ConnectionKey
	generation uint64
	sessions   map[string]*session.Supervisor
}

// New 创建注册表，未指定生成器时使用默认参数
func New(cfg Config) (*Registry, error) {
	if cfg.Generator == nil {
		gen, err := keygen.New(keygen.Config{})
		if err != nil {
			return nil, err
		}
		cfg.Generator = gen
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyMulti
	case PolicyMulti, PolicySingle:
	default:
		return nil, coreerrors.Newf(coreerrors.CodeConfigError, "unknown session policy %q", cfg.Policy)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}
	return &Registry{
		generator: cfg.Generator,
		policy:    cfg.Policy,
		now:       cfg.Now,
		logger:    cfg.Logger,
		sessions:  make(map[string]*session.Supervisor),
	}, nil
}

// Policy 当前密钥策略
func (r *Registry) Policy() Policy { return r.policy }

// OpenNewKey 吊销当前密钥并生成新的 Open 密钥
// 已建立的会话不受影响，使用旧密钥的在途握手会在 Commit 时失败
func (r *Registry) OpenNewKey() (keygen.ConnectionKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.generator.Generate()
	if err != nil {
		return keygen.ConnectionKey{}, err
	}

	if r.current != nil && r.current.Status != keygen.StatusRevoked {
		r.logger.Debugf("registry: key generation %d revoked", r.current.Generation)
		r.current.Status = keygen.StatusRevoked
	}

	r.generation++
	key.Generation = r.generation
	r.current = &key
	r.logger.Infof("registry: key generation %d opened", key.Generation)
	return key, nil
}

// CurrentKey 返回当前密钥副本，从未生成过时 ok 为 false
func (r *Registry) CurrentKey() (keygen.ConnectionKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return keygen.ConnectionKey{}, false
	}
	r.refreshExpiryLocked()
	return *r.current, true
}

// Validate 校验用户输入的密钥，区分大小写、常量时间比较
func (r *Registry) Validate(submitted string) (keygen.ConnectionKey, error) {
	return r.validate(func(value string) bool {
		return subtle.ConstantTimeCompare([]byte(value), []byte(submitted)) == 1
	})
}

// ValidateProof 校验握手中的密钥持有证明，密钥本身不经过网络
func (r *Registry) ValidateProof(nonce, ephemeral, proof []byte) (keygen.ConnectionKey, error) {
	return r.validate(func(value string) bool {
		return tunnel.VerifyProof(value, nonce, ephemeral, proof)
	})
}

func (r *Registry) validate(match func(value string) bool) (keygen.ConnectionKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return keygen.ConnectionKey{}, coreerrors.ErrNoActiveKey
	}
	r.refreshExpiryLocked()

	switch r.current.Status {
	case keygen.StatusOpen:
	case keygen.StatusExpired:
		return keygen.ConnectionKey{}, coreerrors.ErrKeyExpired
	default:
		return keygen.ConnectionKey{}, coreerrors.ErrNoActiveKey
	}

	if !match(r.current.Value) {
		return keygen.ConnectionKey{}, coreerrors.ErrKeyMismatch
	}

	if r.policy == PolicySingle {
		r.current.Status = keygen.StatusConsumed
		r.logger.Debugf("registry: key generation %d consumed", r.current.Generation)
	}
	return *r.current, nil
}

func (r *Registry) refreshExpiryLocked() {
	if r.current.Status == keygen.StatusOpen && r.current.ExpiredAt(r.now()) {
		r.current.Status = keygen.StatusExpired
		r.logger.Infof("registry: key generation %d expired", r.current.Generation)
	}
}

// Commit 会话即将 Established 时调用，确认其密钥仍是当前密钥且未过期
func (r *Registry) Commit(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return coreerrors.Newf(coreerrors.CodeNotFound, "session %s not found", id)
	}
	if r.current == nil || r.current.Generation != s.KeyGeneration() {
		return coreerrors.ErrKeyRevoked
	}
	if r.current.ExpiredAt(r.now()) {
		r.refreshExpiryLocked()
		return coreerrors.ErrKeyExpired
	}
	return nil
}

// Register 登记新会话
func (r *Registry) Register(s *session.Supervisor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State().IsTerminal() {
		return coreerrors.Newf(coreerrors.CodeInvalidState, "session %s already closed", s.ID())
	}
	if _, exists := r.sessions[s.ID()]; exists {
		return coreerrors.Newf(coreerrors.CodeInvalidState, "session %s already registered", s.ID())
	}
	r.sessions[s.ID()] = s
	return nil
}

// Deregister 移除会话，返回是否存在
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get 查找会话
func (r *Registry) Get(id string) (*session.Supervisor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List 返回全部未关闭会话的快照，按创建顺序排列
func (r *Registry) List() []session.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]session.Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		snap := s.Snapshot()
		if snap.State.IsTerminal() {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sessions 返回全部会话句柄，供关闭时逐个断开
func (r *Registry) Sessions() []*session.Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*session.Supervisor, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len 会话数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
