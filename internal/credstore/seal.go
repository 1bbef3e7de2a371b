package credstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN    = 1 << 15
	scryptR    = 8
	scryptP    = 1
	keyLength  = 32
	saltLength = 16
	nonceSize  = 24
)

var errWrongPassphrase = errors.New("wrong passphrase or corrupted data")

func deriveKey(passphrase string, salt []byte) (*[keyLength]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [keyLength]byte
	copy(key[:], raw)
	return &key, nil
}

// seal encrypts plaintext with a key derived from passphrase. The returned
// box is the nonce followed by the secretbox ciphertext.
func seal(passphrase string, plaintext []byte) (salt, box []byte, err error) {
	salt = make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, nil, err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	box = secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return salt, box, nil
}

func open(passphrase string, salt, box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, errWrongPassphrase
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plaintext, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return nil, errWrongPassphrase
	}
	return plaintext, nil
}
