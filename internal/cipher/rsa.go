package cipher

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// DefaultRSABits is the key size of GenerateRSAKey when bits is zero.
const DefaultRSABits = 2048

var (
	ErrInvalidPEM   = errors.New("invalid PEM key")
	ErrNotRSAKey    = errors.New("key is not an RSA key")
	ErrBadSignature = errors.New("signature verification failed")
)

// GenerateRSAKey creates a key pair and returns the PEM encoded private
// key (PKCS#1) and public key (PKIX). With toBase64 both PEM blocks are
// base64 encoded as a whole.
func GenerateRSAKey(bits int, toBase64 bool) (privateKey, publicKey string, err error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	privateKey = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	publicKey = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	if toBase64 {
		privateKey = base64.StdEncoding.EncodeToString([]byte(privateKey))
		publicKey = base64.StdEncoding.EncodeToString([]byte(publicKey))
	}
	return privateKey, publicKey, nil
}

// RSAEncrypt encrypts plaintext with RSA-OAEP (SHA-256) and returns base64.
func RSAEncrypt(plaintext []byte, publicKey string) (string, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return "", err
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// RSADecrypt reverses RSAEncrypt.
func RSADecrypt(ciphertext string, privateKey string) ([]byte, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return out, nil
}

// RSASign signs text with PKCS#1 v1.5 over SHA-256 and returns base64.
func RSASign(text []byte, privateKey string) (string, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(text)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// RSAVerify checks a signature made by RSASign.
func RSAVerify(text []byte, signature string, publicKey string) error {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	digest := sha256.Sum256(text)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// ParsePublicKey reads a PKIX or PKCS#1 public key given as PEM or as
// base64 of PEM.
func ParsePublicKey(key string) (*rsa.PublicKey, error) {
	block, err := decodePEM(key)
	if err != nil {
		return nil, err
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return pub, nil
}

// ParsePrivateKey reads a PKCS#1 or PKCS#8 private key given as PEM or as
// base64 of PEM.
func ParsePrivateKey(key string) (*rsa.PrivateKey, error) {
	block, err := decodePEM(key)
	if err != nil {
		return nil, err
	}
	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return priv, nil
}

func decodePEM(key string) (*pem.Block, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "-----BEGIN") {
		raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(key), ""))
		if err != nil {
			return nil, ErrInvalidPEM
		}
		key = string(raw)
	}
	block, _ := pem.Decode([]byte(key))
	if block == nil {
		return nil, ErrInvalidPEM
	}
	return block, nil
}
