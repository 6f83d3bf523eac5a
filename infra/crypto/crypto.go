// Package crypto holds the digest, field-encryption and 3DES primitives the
// acquirer wire formats depend on. Banks prescribe the exact algorithm and
// byte layout, legacy ones included, so the weak digests here are part of the
// external contract and must not be swapped.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/metinweb/ors-payment-service/payerr"
)

// Sha1HexUpper returns the upper-case hex SHA-1 digest of s.
func Sha1HexUpper(s string) string {
	sum := sha1.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Sha1PackBase64 mirrors PHP's base64_encode(pack('H*', sha1($s))): the hex
// digest is decoded back to raw bytes before base64 encoding.
func Sha1PackBase64(s string) string {
	sum := sha1.Sum([]byte(s))
	hexDigest := hex.EncodeToString(sum[:])
	raw, _ := hex.DecodeString(hexDigest)
	return base64.StdEncoding.EncodeToString(raw)
}

// Sha256Base64 returns the base64 of the raw SHA-256 digest of s.
func Sha256Base64(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sha512HexUpper returns the upper-case hex SHA-512 digest of s.
func Sha512HexUpper(s string) string {
	sum := sha512.Sum512([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Sha512PackBase64 mirrors PHP's base64_encode(pack('H*', hash('sha512', $s))).
func Sha512PackBase64(s string) string {
	sum := sha512.Sum512([]byte(s))
	hexDigest := hex.EncodeToString(sum[:])
	raw, _ := hex.DecodeString(hexDigest)
	return base64.StdEncoding.EncodeToString(raw)
}

// MD5HexUpper returns the upper-case hex MD5 digest of s.
func MD5HexUpper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FieldEncryptor applies deterministic AES-256-CBC to individual credential
// and card fields. Ciphertexts are "<iv-hex>:<ct-hex>"; the colon between two
// hex runs is the sentinel that marks a value as already encrypted, which
// makes both directions idempotent.
type FieldEncryptor struct {
	key []byte // 32 bytes, SHA-256 of the master secret
	sec []byte
}

// NewFieldEncryptor derives the AES key from the configured master secret.
func NewFieldEncryptor(masterSecret string) *FieldEncryptor {
	key := sha256.Sum256([]byte(masterSecret))
	return &FieldEncryptor{key: key[:], sec: []byte(masterSecret)}
}

// IsEncrypted reports whether s carries the iv:ciphertext sentinel.
func IsEncrypted(s string) bool {
	idx := strings.IndexByte(s, ':')
	if idx != 32 || len(s) <= 33 {
		return false
	}
	if _, err := hex.DecodeString(s[:idx]); err != nil {
		return false
	}
	if _, err := hex.DecodeString(s[idx+1:]); err != nil {
		return false
	}
	return true
}

// Encrypt returns the field ciphertext. The IV is derived from the secret and
// the plaintext so the same field encrypts to the same value across restarts.
// Input already carrying the sentinel is returned unchanged.
func (e *FieldEncryptor) Encrypt(clear string) (string, error) {
	if clear == "" || IsEncrypted(clear) {
		return clear, nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", payerr.Wrap(payerr.KindCrypto, "cipher init failed", err)
	}

	ivSum := sha256.Sum256(append(append([]byte{}, e.sec...), []byte(clear)...))
	iv := ivSum[:aes.BlockSize]

	padded := pkcs7Pad([]byte(clear), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Input without the sentinel is returned unchanged.
func (e *FieldEncryptor) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	idx := strings.IndexByte(value, ':')
	iv, err := hex.DecodeString(value[:idx])
	if err != nil {
		return "", payerr.Wrap(payerr.KindCrypto, "malformed iv", err)
	}
	ct, err := hex.DecodeString(value[idx+1:])
	if err != nil {
		return "", payerr.Wrap(payerr.KindCrypto, "malformed ciphertext", err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", payerr.New(payerr.KindCrypto, "ciphertext not block aligned")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", payerr.Wrap(payerr.KindCrypto, "cipher init failed", err)
	}

	clear := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(clear, ct)

	unpadded, err := pkcs7Unpad(clear, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// TDESDecryptECB decrypts data with Triple-DES in ECB mode. No padding is
// removed; YKB callbacks strip their own trailer bytes.
func TDESDecryptECB(data, key24 []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key24)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindCrypto, "3des key invalid", err)
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, payerr.New(payerr.KindCrypto, "3des data not block aligned")
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Decrypt(out[i:], data[i:])
	}
	return out, nil
}

// TDESDecryptCBC decrypts data with Triple-DES in CBC mode, auto-padding off.
func TDESDecryptCBC(data, key24, iv8 []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key24)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindCrypto, "3des key invalid", err)
	}
	if len(iv8) != block.BlockSize() {
		return nil, payerr.New(payerr.KindCrypto, "3des iv must be 8 bytes")
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, payerr.New(payerr.KindCrypto, "3des data not block aligned")
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv8).CryptBlocks(out, data)
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, payerr.New(payerr.KindCrypto, "invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, payerr.New(payerr.KindCrypto, "invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, payerr.New(payerr.KindCrypto, "invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
