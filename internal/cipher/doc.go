// Package cipher wraps the RSA and AES primitives used to exchange and
// store secrets.
//
// The RSA helpers and AESEncrypt/AESDecrypt exchange base64 strings so
// they can travel in JSON: a client encrypts a payload with a fresh AES
// key, encrypts that key with the server's RSA public key and signs it
// with its own private key.
//
// Encryptor is AES-256-GCM for secrets kept at rest.
package cipher
