// Package crypto 提供集成凭证的 AES-256-GCM 加解密
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prefix 标记已加密的字段值
const Prefix = "enc:v1:"

var (
	// ErrInvalidKeySize 密钥长度无效错误
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext 密文格式无效错误
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	// ErrDecryptionFailed 解密失败错误
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
	// ErrNoKey 未配置密钥却遇到了密文
	ErrNoKey = errors.New("encrypted value found but no encryption key is configured")
)

// AESCrypto AES-256-GCM 加密服务
type AESCrypto struct {
	aead cipher.AEAD
}

// NewAESCrypto 创建 AES 加密服务，key 必须为 32 字节
func NewAESCrypto(key []byte) (*AESCrypto, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESCrypto{aead: aead}, nil
}

// Encrypt 加密明文，返回带 Prefix 的 Base64 密文（nonce + ciphertext + tag）
func (a *AESCrypto) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出，不带 Prefix 的值原样返回
func (a *AESCrypto) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := a.aead.NonceSize()
	if len(decoded) < nonceSize+a.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := a.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// IsEncrypted 判断值是否为 Encrypt 的输出
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Prefix)
}
