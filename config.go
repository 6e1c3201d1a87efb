package localmr

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config holds the tunables of a MapReduce job.
type Config struct {
	// Root is the directory all intermediate and final files are written
	// under. Input files are resolved relative to it as well.
	// Default: "assets/output".
	Root string `yaml:"root"`

	// Workers is the size of the worker pool started by Job.Run.
	// Default: 4.
	Workers int `yaml:"workers"`

	// TaskCheckInitialInterval is the delay, in seconds, before the lease
	// sweeper runs its first scan.
	// Default: 1.
	TaskCheckInitialInterval int `yaml:"task_check_initial_interval"`

	// TaskCheckInterval is the cadence, in seconds, between lease sweeps.
	// Default: 1.
	TaskCheckInterval int `yaml:"task_check_interval"`

	// TaskTimeout is the maximum lease age, in milliseconds, before an
	// in-progress task is taken back and requeued. Zero expires leases on
	// the very next sweep.
	// Default: 10000.
	TaskTimeout int `yaml:"task_timeout"`
}

// DefaultConfig returns a configuration that works for local jobs without a
// config file.
func DefaultConfig() Config {
	return Config{
		Root:                     "assets/output",
		Workers:                  4,
		TaskCheckInitialInterval: 1,
		TaskCheckInterval:        1,
		TaskTimeout:              10000,
	}
}

// LoadConfig reads a yaml config file on top of the defaults, so a file only
// needs to name the fields it changes.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, wrapKind(ErrIO, errors.Wrapf(err, "read config file %s", path))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, wrapKind(ErrValidation, errors.Wrapf(err, "parse config file %s", path))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations no job can run with.
func (c Config) Validate() error {
	switch {
	case c.Root == "":
		return wrapKind(ErrValidation, errors.New("root directory cannot be empty"))
	case c.Workers <= 0:
		return wrapKind(ErrValidation, errors.Errorf("workers must be positive, got %d", c.Workers))
	case c.TaskCheckInitialInterval < 0:
		return wrapKind(ErrValidation, errors.Errorf("task check initial interval cannot be negative, got %d", c.TaskCheckInitialInterval))
	case c.TaskCheckInterval <= 0:
		return wrapKind(ErrValidation, errors.Errorf("task check interval must be positive, got %d", c.TaskCheckInterval))
	case c.TaskTimeout < 0:
		return wrapKind(ErrValidation, errors.Errorf("task timeout cannot be negative, got %d", c.TaskTimeout))
	}
	return nil
}

func (c Config) checkInitialInterval() time.Duration {
	return time.Duration(c.TaskCheckInitialInterval) * time.Second
}

func (c Config) checkInterval() time.Duration {
	return time.Duration(c.TaskCheckInterval) * time.Second
}

func (c Config) taskTimeout() time.Duration {
	return time.Duration(c.TaskTimeout) * time.Millisecond
}
