package keygen

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "letmego-core/internal/core/errors"
)

func TestGenerate_LengthAndAlphabet(t *testing.T) {
	gen, err := New(Config{})
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		key, err := gen.Generate()
		require.NoError(t, err)
		assert.Len(t, key.Value, DefaultLength)
		assert.Equal(t, StatusOpen, key.Status)
		for _, ch := range key.Value {
			assert.True(t, strings.ContainsRune(DefaultCharset, ch), "unexpected char %q in %s", ch, key.Value)
		}
		assert.NotContains(t, key.Value, "0")
		assert.NotContains(t, key.Value, "O")
		assert.NotContains(t, key.Value, "1")
		assert.NotContains(t, key.Value, "I")
	}
}

func TestGenerate_NeverRepeatsPrevious(t *testing.T) {
	// 两个字符、长度 1：只有 A 和 B 两种可能
	gen, err := New(Config{Length: 1, Charset: "AB"})
	require.NoError(t, err)

	prev, err := gen.Generate()
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		next, err := gen.Generate()
		require.NoError(t, err)
		assert.NotEqual(t, prev.Value, next.Value)
		prev = next
	}
}

func TestGenerate_DegenerateAlphabetExhausts(t *testing.T) {
	gen, err := New(Config{Length: 4, Charset: "A"})
	require.NoError(t, err)

	first, err := gen.Generate()
	require.NoError(t, err)
	assert.Equal(t, "AAAA", first.Value)

	_, err = gen.Generate()
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeResourceExhausted, coreerrors.GetCode(err))
}

func TestGenerate_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gen, err := New(Config{Expiry: 10 * time.Minute, Now: func() time.Time { return now }})
	require.NoError(t, err)

	key, err := gen.Generate()
	require.NoError(t, err)
	assert.Equal(t, now, key.CreatedAt)
	assert.Equal(t, now.Add(10*time.Minute), key.ExpiresAt)
	assert.False(t, key.ExpiredAt(now.Add(9*time.Minute)))
	assert.True(t, key.ExpiredAt(now.Add(10*time.Minute)))
}

func TestGenerate_NoExpiryByDefault(t *testing.T) {
	gen, err := New(Config{})
	require.NoError(t, err)

	key, err := gen.Generate()
	require.NoError(t, err)
	assert.True(t, key.ExpiresAt.IsZero())
	assert.False(t, key.ExpiredAt(time.Now().Add(100*365*24*time.Hour)))
}

func TestGenerate_RandomFailure(t *testing.T) {
	gen, err := New(Config{Random: bytes.NewReader(nil)})
	require.NoError(t, err)

	_, err = gen.Generate()
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeInternal, coreerrors.GetCode(err))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative length", Config{Length: -1}},
		{"lowercase charset", Config{Charset: "abc"}},
		{"duplicate char", Config{Charset: "ABCA"}},
		{"negative expiry", Config{Expiry: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, coreerrors.CodeConfigError, coreerrors.GetCode(err))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "7K3P9Q", Normalize("7k3p9q", DefaultLength))
	assert.Equal(t, "7K3P9Q", Normalize(" 7k-3p 9q ", DefaultLength))
	assert.Equal(t, "7K3P9Q", Normalize("7K3P9QXYZ", DefaultLength))
	assert.Equal(t, "", Normalize("--", DefaultLength))
	assert.Equal(t, "ABCDEFGH", Normalize("abc.def.gh", 0))
}

func TestEntropy(t *testing.T) {
	gen, err := New(Config{})
	require.NoError(t, err)

	// 32^6 = 2^30
	assert.Equal(t, 0, gen.Entropy().Cmp(big.NewInt(1<<30)))
}
