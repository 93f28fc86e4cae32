package tunnel

import (
	"crypto/cipher"
	"encoding/binary"
	"math"

	"golang.org/x/crypto/chacha20poly1305"

	coreerrors "letmego-core/internal/core/errors"
)

// cipherState 单方向的 AEAD 状态，nonce 为 64 位递增计数器
// 底层传输保证有序可靠，计数器无需随帧发送
type cipherState struct {
	aead    cipher.AEAD
	counter uint64
}

func newCipherState(key []byte) (*cipherState, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeEncryptionError, "failed to create cipher")
	}
	return &cipherState{aead: aead}, nil
}

func (c *cipherState) nextNonce() ([]byte, error) {
	if c.counter == math.MaxUint64 {
		return nil, coreerrors.New(coreerrors.CodeEncryptionError, "nonce space exhausted")
	}
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], c.counter)
	c.counter++
	return nonce[:], nil
}

func (c *cipherState) seal(t FrameType, plaintext []byte) ([]byte, error) {
	nonce, err := c.nextNonce()
	if err != nil {
		return nil, err
	}
	return c.aead.Seal(nil, nonce, plaintext, []byte{byte(t)}), nil
}

func (c *cipherState) open(t FrameType, ciphertext []byte) ([]byte, error) {
	nonce, err := c.nextNonce()
	if err != nil {
		return nil, err
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte{byte(t)})
	if err != nil {
		return nil, coreerrors.Wrapf(err, coreerrors.CodeEncryptionError, "failed to decrypt %s frame", t)
	}
	return plaintext, nil
}
