package credstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const fileFormatVersion = 1

// fileRecord is the on-disk layout. Either the plain fields or the sealed
// pair are set.
type fileRecord struct {
	Version    int    `yaml:"version"`
	Token      string `yaml:"token,omitempty"`
	CustomerID string `yaml:"customerId,omitempty"`
	Salt       string `yaml:"salt,omitempty"`
	Sealed     string `yaml:"sealed,omitempty"`
}

// File keeps the session in a YAML file readable only by the owner. When a
// passphrase is set the credentials are sealed with NaCl secretbox under a
// scrypt-derived key.
type File struct {
	mu         sync.Mutex
	path       string
	passphrase string
	logger     *zap.Logger
}

// NewFile returns a store backed by path.
func NewFile(path, passphrase string, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: path, passphrase: passphrase, logger: logger}
}

// Path returns the backing file.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(_ context.Context) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, storageError("read", err)
	}

	var record fileRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		return Credentials{}, storageError("read", fmt.Errorf("parse %s: %w", f.path, err))
	}
	if record.Version > fileFormatVersion {
		return Credentials{}, apperr.New(apperr.KindStorage, "saved session uses unsupported format version %d", record.Version)
	}

	if record.Sealed == "" {
		return Credentials{Token: record.Token, CustomerID: record.CustomerID}, nil
	}
	if f.passphrase == "" {
		return Credentials{}, apperr.New(apperr.KindStorage, "the saved session is encrypted, set a store passphrase to read it")
	}

	salt, err := base64.StdEncoding.DecodeString(record.Salt)
	if err != nil {
		return Credentials{}, storageError("read", err)
	}
	box, err := base64.StdEncoding.DecodeString(record.Sealed)
	if err != nil {
		return Credentials{}, storageError("read", err)
	}
	plaintext, err := open(f.passphrase, salt, box)
	if err != nil {
		return Credentials{}, storageError("decrypt", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, storageError("read", err)
	}
	return creds, nil
}

func (f *File) Save(_ context.Context, creds Credentials) error {
	if err := checkSave(creds); err != nil {
		return err
	}

	record := fileRecord{Version: fileFormatVersion}
	if f.passphrase == "" {
		record.Token = creds.Token
		record.CustomerID = creds.CustomerID
	} else {
		plaintext, err := yaml.Marshal(creds)
		if err != nil {
			return storageError("encode", err)
		}
		salt, box, err := seal(f.passphrase, plaintext)
		if err != nil {
			return storageError("encrypt", err)
		}
		record.Salt = base64.StdEncoding.EncodeToString(salt)
		record.Sealed = base64.StdEncoding.EncodeToString(box)
	}

	data, err := yaml.Marshal(&record)
	if err != nil {
		return storageError("encode", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeFileAtomic(f.path, data); err != nil {
		return storageError("save", err)
	}
	f.logger.Debug("saved session",
		zap.String("op", "credstore.File.Save"),
		zap.String("path", f.path),
		zap.Bool("sealed", record.Sealed != ""),
	)
	return nil
}

func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageError("clear", err)
	}
	return nil
}

func (f *File) Close() error {
	return nil
}

// writeFileAtomic replaces path with data so readers see either the old or
// the new content, never a partial write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
