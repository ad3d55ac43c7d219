package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

var (
	secretKeyOnce sync.Once
	secretKey     []byte
)

// 密钥派生盐值，与部署环境绑定时可通过 GATEWAY_CREDENTIAL_SALT 覆盖
const defaultKeySalt = "mcp_gateway_credential_salt_v1"

func getSecretKey() []byte {
	secretKeyOnce.Do(func() {
		seed := strings.TrimSpace(os.Getenv("GATEWAY_CREDENTIAL_SECRET"))
		if seed == "" {
			seed = strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
		}
		if seed == "" {
			seed = "mcp_gateway_dev_secret_change_me"
		}
		salt := strings.TrimSpace(os.Getenv("GATEWAY_CREDENTIAL_SALT"))
		if salt == "" {
			salt = defaultKeySalt
		}
		secretKey = pbkdf2.Key([]byte(seed), []byte(salt), 4096, 32, sha256.New)
	})
	return secretKey
}

// EncryptSecret 使用 AES-GCM 加密敏感字符串，返回 base64 编码的密文（含随机 Nonce）。
func EncryptSecret(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", fmt.Errorf("待加密内容不能为空")
	}
	key := getSecretKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("初始化密钥失败: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("初始化 GCM 失败: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSecret 对 EncryptSecret 生成的密文进行解密。
func DecryptSecret(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("密文不能为空")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("密文编码无效: %w", err)
	}
	key := getSecretKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("初始化密钥失败: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("初始化 GCM 失败: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("密文长度无效")
	}
	nonce := ciphertext[:nonceSize]
	data := ciphertext[nonceSize:]
	plain, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("解密失败: %w", err)
	}
	return string(plain), nil
}

// EncryptCredentials 加密连接认证信息（如 {"username": "root", "password": "1234"}）。
func EncryptCredentials(creds map[string]string) (string, error) {
	if len(creds) == 0 {
		return "", fmt.Errorf("认证信息不能为空")
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("序列化认证信息失败: %w", err)
	}
	return EncryptSecret(string(raw))
}

// DecryptCredentials 解密连接认证信息。
func DecryptCredentials(encoded string) (map[string]string, error) {
	plain, err := DecryptSecret(encoded)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if err := json.Unmarshal([]byte(plain), &creds); err != nil {
		return nil, fmt.Errorf("解析认证信息失败: %w", err)
	}
	return creds, nil
}
