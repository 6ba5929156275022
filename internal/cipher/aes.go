package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

const aesKeyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var ErrInvalidPadding = errors.New("invalid PKCS#7 padding")

// GenerateAESKey returns a random 16 character alphanumeric key.
func GenerateAESKey() (string, error) {
	out := make([]byte, 16)
	max := big.NewInt(int64(len(aesKeyAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		out[i] = aesKeyAlphabet[n.Int64()]
	}
	return string(out), nil
}

// AESEncrypt encrypts plaintext with AES-CBC and PKCS#7 padding and
// returns base64. The key must be 16, 24 or 32 bytes; an empty iv means
// the key itself, so it must then be 16 bytes.
func AESEncrypt(plaintext []byte, key, iv string) (string, error) {
	block, ivBytes, err := newCBC(key, iv)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, ivBytes).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// AESDecrypt reverses AESEncrypt.
func AESDecrypt(ciphertext string, key, iv string) ([]byte, error) {
	block, ivBytes, err := newCBC(key, iv)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, ErrCiphertextTooShort
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, ivBytes).CryptBlocks(out, raw)
	return pkcs7Unpad(out, aes.BlockSize)
}

func newCBC(key, iv string) (cipher.Block, []byte, error) {
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if iv == "" {
		iv = key
	}
	if len(iv) != aes.BlockSize {
		return nil, nil, fmt.Errorf("iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	return block, []byte(iv), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
