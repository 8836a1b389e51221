// Package config reads the persisted purge limits.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/lucasew/blobpurge/internal/purge"
	"github.com/spf13/viper"
)

const (
	keyStorageLimit = "purge.storage-limit"
	keyCPUMax       = "purge.cpu-max"
)

// File is a config file holding persisted purge limits:
//
//	purge:
//	  storage-limit: 5000000000
//	  cpu-max: 30
//
// The file is re-read on every call to Overrides so edits apply on the next
// start without restarting the process.
type File struct {
	v *viper.Viper
}

// NewFile returns the persisted config stored at path. An empty path yields a
// File without any values.
func NewFile(path string) *File {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	return &File{v: v}
}

// Overrides implements purge.PersistedConfig. A missing file is not an error.
func (f *File) Overrides() (purge.Overrides, error) {
	if f.v.ConfigFileUsed() == "" {
		return purge.Overrides{}, nil
	}
	if err := f.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Debug("No persisted purge config", "path", f.v.ConfigFileUsed())
			return purge.Overrides{}, nil
		}
		return purge.Overrides{}, fmt.Errorf("failed to read %s: %w", f.v.ConfigFileUsed(), err)
	}

	var o purge.Overrides
	if f.v.IsSet(keyStorageLimit) {
		o.StorageLimit = f.v.GetInt64(keyStorageLimit)
	}
	if f.v.IsSet(keyCPUMax) {
		o.CPUMax = f.v.GetFloat64(keyCPUMax)
	}
	return o, nil
}
