// crypto.go implements the envelope's cryptographic primitives: the
// HMAC-SHA256 message authentication code and AES-128-CBC payload encryption
// with PKCS#7 padding.

package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const ivSize = 16

// CalculateMAC computes the message MAC: HMAC-SHA256 over the UTF-8
// concatenation of subject id, type, iv and payload, rendered as lowercase
// hex.
//
// A relay-originated message without an IV gets a fresh random one; a
// mobile-originated message without an IV is rejected, since an inbound
// encrypted message must carry the IV it was encrypted with.
func (m *Message) CalculateMAC(macKey []byte) (string, error) {
	if len(macKey) == 0 {
		return "", NewCryptoError("missing MAC key")
	}
	subject, err := m.SubjectID()
	if err != nil {
		return "", err
	}
	if m.IV == "" {
		if !m.relayOriginated {
			return "", NewFormatError("mobile-originated message is missing IV")
		}
		if _, err := m.generateIV(); err != nil {
			return "", err
		}
	}

	mac := hmac.New(sha256.New, macKey)
	mac.Write([]byte(subject + m.Type + m.IV + m.Payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Encrypt replaces the payload with its AES-128-CBC ciphertext (base64) and
// marks the message encrypted. Already-encrypted messages are left alone.
func (m *Message) Encrypt(encKey []byte) error {
	if m.encrypted {
		return nil
	}
	if len(encKey) == 0 {
		return NewCryptoError("encryption failed: missing encryption key")
	}

	iv, err := m.generateIV()
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return WrapCryptoError(err, "encryption failed")
	}

	plaintext, err := m.PayloadBytes()
	if err != nil {
		return err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	m.Payload = base64.StdEncoding.EncodeToString(ciphertext)
	m.encrypted = true
	return nil
}

// Decrypt replaces the encrypted payload with the base64 of its plaintext
// and clears the encrypted flag.
func (m *Message) Decrypt(encKey []byte) error {
	if m.IV == "" {
		return NewFormatError("unable to decrypt message: message is not encrypted")
	}
	if len(encKey) == 0 {
		return NewCryptoError("decryption failed: missing decryption key")
	}

	iv, err := base64.StdEncoding.DecodeString(m.IV)
	if err != nil {
		return WrapFormatError(err, "iv is not valid base64")
	}
	if len(iv) != ivSize {
		return NewFormatError("iv has wrong length")
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return WrapCryptoError(err, "decryption failed")
	}

	ciphertext, err := m.PayloadBytes()
	if err != nil {
		return err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return NewCryptoError("ciphertext is not a whole number of blocks")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, block.BlockSize())
	if err != nil {
		return err
	}

	m.Payload = base64.StdEncoding.EncodeToString(unpadded)
	m.encrypted = false
	return nil
}

// generateIV returns the message IV, creating and storing a fresh random one
// if none is set.
func (m *Message) generateIV() ([]byte, error) {
	if m.IV != "" {
		iv, err := base64.StdEncoding.DecodeString(m.IV)
		if err != nil {
			return nil, WrapFormatError(err, "iv is not valid base64")
		}
		return iv, nil
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, WrapCryptoError(err, "failed to generate IV")
	}
	m.IV = base64.StdEncoding.EncodeToString(iv)
	return iv, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, NewCryptoError("invalid padding")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, NewCryptoError("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, NewCryptoError("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
