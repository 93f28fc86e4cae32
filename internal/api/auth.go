package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	coreerrors "letmego-core/internal/core/errors"
)

const (
	defaultIssuer   = "letmego-anchor"
	defaultTokenTTL = 24 * time.Hour
	tokenAudience   = "letmego-management"
)

// AuthConfig 管理 API 鉴权配置，Secret 为空时关闭鉴权
type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Claims 管理令牌声明
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Authenticator 使用 HS256 签发和校验管理令牌
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator 创建鉴权器
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return &Authenticator{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
}

// Enabled 是否启用鉴权
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken 为 subject 签发令牌
func (a *Authenticator) IssueToken(subject string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, coreerrors.New(coreerrors.CodeConfigError, "management auth secret is not configured")
	}
	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := &Claims{
		Scope: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			Audience:  []string{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, coreerrors.Wrap(err, coreerrors.CodeInternal, "sign token")
	}
	return token, expiresAt, nil
}

// ValidateToken 校验令牌签名、签发者、受众与有效期
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeUnauthorized, "invalid token")
	}
	return claims, nil
}

// tokenFromRequest 优先读取 Authorization 头，其次 token 查询参数（浏览器 websocket 无法设置请求头）
func tokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", coreerrors.New(coreerrors.CodeUnauthorized, "invalid authorization header format")
		}
		return parts[1], nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", coreerrors.New(coreerrors.CodeUnauthorized, "missing authorization header")
}
