// Package crypto 提供邮件内容的静态加密。
//
// 密文格式: base64( nonce(12) || ciphertext || tag(16) )，每次加密使用新的随机 nonce。
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
)

const (
	// KeySize AES-256 密钥长度
	KeySize = 32
	// NonceSize GCM nonce 长度
	NonceSize = 12
	// TagSize GCM 认证标签长度
	TagSize = 16

	// MinKeyMaterial 配置密钥材料的最小长度
	MinKeyMaterial = 32
)

var (
	vaultSalt = []byte("secure-tempmail/vault/salt")
	vaultInfo = []byte("secure-tempmail vault v1")
)

var (
	// ErrKeyMaterialTooShort 密钥材料不足
	ErrKeyMaterialTooShort = errors.New("key material too short")
	// ErrVaultClosed 密钥已销毁
	ErrVaultClosed = errors.New("vault closed")
	// ErrCiphertextTooShort 密文长度不足以包含 nonce 和 tag
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Vault 使用进程启动时派生的单一密钥进行 AES-256-GCM 加解密。
//
// 派生出的密钥平时以 memguard Enclave 形式加密保存；每次加解密时才解封到锁定内存，
// 并在调用结束后连同 AES 轮密钥一起丢弃。Close 后不可再用。
type Vault struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewVault 从密钥材料派生加密密钥并创建 Vault
//
// 参数:
//   - keyMaterial: 配置中的原始密钥材料，至少 32 字节
func NewVault(keyMaterial []byte) (*Vault, error) {
	if len(keyMaterial) < MinKeyMaterial {
		return nil, fmt.Errorf("%w: got %d, want at least %d", ErrKeyMaterialTooShort, len(keyMaterial), MinKeyMaterial)
	}

	derived, err := DeriveKey(keyMaterial, vaultSalt, vaultInfo, KeySize)
	if err != nil {
		return nil, err
	}

	// NewEnclave 会擦除 derived
	v := &Vault{enclave: memguard.NewEnclave(derived)}

	// 提前确认密钥可用，避免第一封邮件才暴露问题
	if err := v.withAEAD(func(cipher.AEAD) error { return nil }); err != nil {
		return nil, err
	}
	return v, nil
}

// withAEAD 解封密钥构造一次性的 AEAD，fn 返回后密钥所在的锁定内存立即销毁
func (v *Vault) withAEAD(fn func(aead cipher.AEAD) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.enclave == nil {
		return fmt.Errorf("%w: %w", domain.ErrCryptoFailure, ErrVaultClosed)
	}

	key, err := v.enclave.Open()
	if err != nil {
		return fmt.Errorf("%w: open key enclave: %w", domain.ErrCryptoFailure, err)
	}
	defer key.Destroy()

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return fmt.Errorf("%w: create cipher: %w", domain.ErrCryptoFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("%w: create GCM: %w", domain.ErrCryptoFailure, err)
	}
	return fn(aead)
}

// DeriveKey 使用 HKDF-SHA-512 派生密钥
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha512.Size)
	}

	reader := hkdf.New(sha512.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Encrypt 加密字节，返回 nonce || ciphertext || tag
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %w", domain.ErrCryptoFailure, err)
	}

	var sealed []byte
	err := v.withAEAD(func(aead cipher.AEAD) error {
		sealed = aead.Seal(nonce, nonce, plaintext, nil)
		return nil
	})
	return sealed, err
}

// Decrypt 解密 Encrypt 的输出；篡改、截断都返回 ErrCryptoFailure
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: %w", domain.ErrCryptoFailure, ErrCiphertextTooShort)
	}

	var plaintext []byte
	err := v.withAEAD(func(aead cipher.AEAD) error {
		var err error
		plaintext, err = aead.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], nil)
		if err != nil {
			return fmt.Errorf("%w: authentication failed", domain.ErrCryptoFailure)
		}
		return nil
	})
	return plaintext, err
}

// EncryptString 加密并以 base64 编码，用于 TEXT 列
func (v *Vault) EncryptString(plaintext []byte) (string, error) {
	sealed, err := v.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString 解码 base64 并解密
func (v *Vault) DecryptString(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", domain.ErrCryptoFailure)
	}
	return v.Decrypt(sealed)
}

// Close 丢弃密钥 Enclave，之后的加解密都返回 ErrVaultClosed
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enclave = nil
}
