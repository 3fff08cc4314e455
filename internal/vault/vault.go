// Package vault 提供交易所凭证的对称加解密。
// 密文格式为 "ivHex:cipherHex"，每次加密使用随机 IV，
// 相同明文两次加密得到不同密文。
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCiphertext 密文格式非法或已被截断/篡改
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// keySize AES-256 密钥长度
const keySize = 32

// Vault AES-256-CBC 凭证加密器
type Vault struct {
	key []byte
}

// New 创建加密器。密钥不足 32 字节时右侧补 '0'，超出时截断。
func New(key string) *Vault {
	padded := key
	if len(padded) < keySize {
		padded = padded + strings.Repeat("0", keySize-len(padded))
	}
	return &Vault{key: []byte(padded[:keySize])}
}

// Encrypt 加密明文，返回 "ivHex:cipherHex"
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt 解密 "ivHex:cipherHex" 格式的密文。
// 任何格式错误都返回 ErrInvalidCiphertext，绝不静默返回乱码。
func (v *Vault) Decrypt(payload string) (string, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: expected ivHex:cipherHex", ErrInvalidCiphertext)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: malformed iv", ErrInvalidCiphertext)
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: malformed cipher block", ErrInvalidCiphertext)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
	}
	return string(unpadded), nil
}

// pkcs7Pad PKCS#7 填充
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

// pkcs7Unpad 校验并去除 PKCS#7 填充
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding size")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
