package tunnel

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	coreerrors "letmego-core/internal/core/errors"
)

const (
	// ProtocolVersion 握手协议版本
	ProtocolVersion = 1

	// NonceSize Hello 中随机数长度
	NonceSize = 16

	proofLabel      = "letmego proof v1"
	transcriptLabel = "letmego transcript v1"
)

// keyPair X25519 临时密钥对
type keyPair struct {
	private [curve25519.ScalarSize]byte
	public  [curve25519.PointSize]byte
}

func newKeyPair() (*keyPair, error) {
	kp := &keyPair{}
	if _, err := io.ReadFull(rand.Reader, kp.private[:]); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeEncryptionError, "failed to generate ephemeral key")
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeEncryptionError, "failed to derive public key")
	}
	copy(kp.public[:], pub)
	return kp, nil
}

// shared 计算共享密钥，低阶点会导致错误
func (kp *keyPair) shared(peer []byte) ([]byte, error) {
	if len(peer) != curve25519.PointSize {
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "invalid ephemeral key length %d", len(peer))
	}
	secret, err := curve25519.X25519(kp.private[:], peer)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeEncryptionError, "key agreement failed")
	}
	return secret, nil
}

// ComputeProof 计算配对密钥持有证明 HMAC-SHA256(key, label‖nonce‖ephemeral)
func ComputeProof(key string, nonce, ephemeral []byte) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(proofLabel))
	mac.Write(nonce)
	mac.Write(ephemeral)
	return mac.Sum(nil)
}

// VerifyProof 常量时间比较证明
func VerifyProof(key string, nonce, ephemeral, proof []byte) bool {
	return hmac.Equal(ComputeProof(key, nonce, ephemeral), proof)
}

// transcriptHash 对 Hello 和 Welcome 原始负载做哈希
func transcriptHash(hello, welcome []byte) []byte {
	h := sha256.New()
	h.Write([]byte(transcriptLabel))
	h.Write(hello)
	h.Write(welcome)
	return h.Sum(nil)
}

// sessionKeys 双向会话密钥
type sessionKeys struct {
	satelliteToAnchor []byte
	anchorToSatellite []byte
}

// deriveKeys HKDF-SHA256(shared, salt=配对密钥, info=transcript)
func deriveKeys(shared []byte, pairingKey string, transcript []byte) (*sessionKeys, error) {
	r := hkdf.New(sha256.New, shared, []byte(pairingKey), transcript)
	out := make([]byte, 64)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeEncryptionError, "key derivation failed")
	}
	return &sessionKeys{satelliteToAnchor: out[:32], anchorToSatellite: out[32:]}, nil
}

// Identity Satellite 的设备身份
type Identity struct {
	Private ed25519.PrivateKey
}

// NewIdentity 生成新的设备身份
func NewIdentity() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeEncryptionError, "failed to generate identity")
	}
	return &Identity{Private: priv}, nil
}

// Public 公钥
func (id *Identity) Public() ed25519.PublicKey {
	return id.Private.Public().(ed25519.PublicKey)
}

// Fingerprint 公钥指纹
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.Public())
}

// Fingerprint 取公钥 SHA-256 前 8 字节，冒号分隔
func Fingerprint(pub []byte) string {
	if len(pub) == 0 {
		return ""
	}
	sum := sha256.Sum256(pub)
	parts := make([]string, 8)
	for i := range parts {
		parts[i] = hex.EncodeToString(sum[i : i+1])
	}
	return strings.Join(parts, ":")
}
