package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecret(t *testing.T) {
	t.Run("加解密往返", func(t *testing.T) {
		cipher, err := EncryptSecret("p@ssw0rd-114514")
		require.NoError(t, err)
		require.NotEmpty(t, cipher)

		plain, err := DecryptSecret(cipher)
		require.NoError(t, err)
		assert.Equal(t, "p@ssw0rd-114514", plain)
	})

	t.Run("相同明文产生不同密文", func(t *testing.T) {
		a, err := EncryptSecret("same-secret")
		require.NoError(t, err)
		b, err := EncryptSecret("same-secret")
		require.NoError(t, err)
		assert.NotEqual(t, a, b, "随机 Nonce 应保证密文不同")
	})

	t.Run("空明文拒绝加密", func(t *testing.T) {
		_, err := EncryptSecret("  ")
		assert.Error(t, err)
	})

	t.Run("损坏密文解密失败", func(t *testing.T) {
		cipher, err := EncryptSecret("secret")
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(cipher)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		_, err = DecryptSecret(base64.StdEncoding.EncodeToString(raw))
		assert.Error(t, err)
	})

	t.Run("过短密文解密失败", func(t *testing.T) {
		_, err := DecryptSecret(base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}))
		assert.Error(t, err)
	})

	t.Run("非 base64 密文解密失败", func(t *testing.T) {
		_, err := DecryptSecret("not-base64!!!")
		assert.Error(t, err)
	})
}

func TestEncryptDecryptCredentials(t *testing.T) {
	creds := map[string]string{
		"username": "readonly",
		"password": "s3cret!",
	}

	cipher, err := EncryptCredentials(creds)
	require.NoError(t, err)

	decoded, err := DecryptCredentials(cipher)
	require.NoError(t, err)
	assert.Equal(t, creds, decoded)
}
