package purge

import "fmt"

const (
	DefaultStorageLimit int64 = 10e9
	DefaultCPUMax             = 50.0
)

// Overrides carries optional limits. Zero fields are unset.
type Overrides struct {
	StorageLimit int64   `json:"storage_limit,omitempty" mapstructure:"storage-limit"`
	CPUMax       float64 `json:"cpu_max,omitempty" mapstructure:"cpu-max"`
}

// RunConfig holds the limits of one armed run.
type RunConfig struct {
	StorageLimit int64   `json:"storage_limit"`
	CPUMax       float64 `json:"cpu_max"`
}

// PersistedConfig returns the limits stored by the host. It is consulted on
// every Start and takes precedence over the arguments of Start.
type PersistedConfig func() (Overrides, error)

// Resolve picks each limit from persisted, then arg, then the defaults.
func Resolve(persisted, arg Overrides) (RunConfig, error) {
	cfg := RunConfig{StorageLimit: DefaultStorageLimit, CPUMax: DefaultCPUMax}

	switch {
	case persisted.StorageLimit != 0:
		cfg.StorageLimit = persisted.StorageLimit
	case arg.StorageLimit != 0:
		cfg.StorageLimit = arg.StorageLimit
	}
	switch {
	case persisted.CPUMax != 0:
		cfg.CPUMax = persisted.CPUMax
	case arg.CPUMax != 0:
		cfg.CPUMax = arg.CPUMax
	}

	if cfg.StorageLimit < 0 {
		return RunConfig{}, fmt.Errorf("%w: negative storage limit %d", ErrConfiguration, cfg.StorageLimit)
	}
	if cfg.CPUMax < 0 || cfg.CPUMax > 100 {
		return RunConfig{}, fmt.Errorf("%w: cpu max %.1f%% out of range", ErrConfiguration, cfg.CPUMax)
	}
	return cfg, nil
}
