// Package registrar reserves device identities with lock files, one
// exclusive flock per major:minor pair under <run_dir>/devices.
package registrar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// Config controls where locks live and which majors are handed out
// dynamically.
type Config struct {
	RunDir       string
	DynamicBase  uint32
	DynamicLimit uint32
}

// Registration describes a held identity.
type Registration struct {
	ID    types.DeviceID `json:"id"`
	Count int            `json:"count"`
	Name  string         `json:"name"`
}

// FileRegistrar implements types.Registrar with lock files.
type FileRegistrar struct {
	mu     sync.Mutex
	config Config
	dir    string
	held   map[types.DeviceID]*registration
	logger *utils.Logger
}

type registration struct {
	Registration
	locks []*flock.Flock
}

var _ types.Registrar = (*FileRegistrar)(nil)

// New creates a registrar and its lock directory.
func New(config Config, logger *utils.Logger) (*FileRegistrar, error) {
	if config.DynamicBase == 0 || config.DynamicBase > config.DynamicLimit {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid dynamic major range %d-%d", config.DynamicBase, config.DynamicLimit)).
			WithComponent("registrar")
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	dir := filepath.Join(config.RunDir, "devices")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.NewError(errors.ErrCodeRegistrationFailed, "failed to create lock directory").
			WithComponent("registrar").
			WithContext("dir", dir).
			WithCause(err)
	}

	return &FileRegistrar{
		config: config,
		dir:    dir,
		held:   make(map[types.DeviceID]*registration),
		logger: logger.WithComponent("registrar"),
	}, nil
}

// RegisterStatic reserves count minors starting at minor under major.
func (r *FileRegistrar) RegisterStatic(major, minor uint32, count int, name string) (types.DeviceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := types.DeviceID{Major: major, Minor: minor}
	if err := r.reserve(id, count, name); err != nil {
		return types.DeviceID{}, err
	}
	return id, nil
}

// AllocateDynamic reserves count minors under the highest free major in the
// dynamic range.
func (r *FileRegistrar) AllocateDynamic(minor uint32, count int, name string) (types.DeviceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for major := r.config.DynamicLimit; major >= r.config.DynamicBase; major-- {
		id := types.DeviceID{Major: major, Minor: minor}
		err := r.reserve(id, count, name)
		if err == nil {
			return id, nil
		}
		if !errors.IsBusy(err) {
			return types.DeviceID{}, err
		}
	}

	return types.DeviceID{}, errors.NewError(errors.ErrCodeRegistrationFailed, "no free major in dynamic range").
		WithComponent("registrar").
		WithOperation("allocate").
		WithDetail("base", r.config.DynamicBase).
		WithDetail("limit", r.config.DynamicLimit)
}

// Unregister releases an identity. Lock files stay on disk so every process
// locks the same inode. Unknown ids are ignored.
func (r *FileRegistrar) Unregister(id types.DeviceID, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.held[id]
	if !ok {
		r.logger.Warn("Unregister of unknown identity %s", id)
		return
	}
	if count != reg.Count {
		r.logger.Warn("Unregister of %s with count %d, registered with %d", id, count, reg.Count)
	}

	unlockAll(reg.locks, r.logger)
	delete(r.held, id)
	r.logger.Info("Unregistered %s (%s)", id, reg.Name)
}

// Registered lists held identities sorted by id.
func (r *FileRegistrar) Registered() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Registration, 0, len(r.held))
	for _, reg := range r.held {
		out = append(out, reg.Registration)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Major != out[j].ID.Major {
			return out[i].ID.Major < out[j].ID.Major
		}
		return out[i].ID.Minor < out[j].ID.Minor
	})
	return out
}

// reserve must be called with mu held. A lock held by anyone, this process
// included, yields DEVICE_BUSY with nothing reserved.
func (r *FileRegistrar) reserve(id types.DeviceID, count int, name string) error {
	if count < 1 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "count must be at least 1").
			WithComponent("registrar")
	}
	if r.overlapsHeld(id, count) {
		return errors.NewBusyError("register").
			WithComponent("registrar").
			WithContext("id", id.String())
	}

	locks := make([]*flock.Flock, 0, count)
	for i := 0; i < count; i++ {
		minorID := types.DeviceID{Major: id.Major, Minor: id.Minor + uint32(i)}
		fl := flock.New(r.lockPath(minorID))

		locked, err := fl.TryLock()
		if err != nil {
			unlockAll(locks, r.logger)
			return errors.NewError(errors.ErrCodeRegistrationFailed, "failed to lock identity").
				WithComponent("registrar").
				WithContext("id", minorID.String()).
				WithCause(err)
		}
		if !locked {
			unlockAll(locks, r.logger)
			return errors.NewBusyError("register").
				WithComponent("registrar").
				WithContext("id", minorID.String())
		}
		locks = append(locks, fl)
	}

	r.held[id] = &registration{
		Registration: Registration{ID: id, Count: count, Name: name},
		locks:        locks,
	}
	r.logger.Debug("Registered %s for %s", id, name)
	return nil
}

func (r *FileRegistrar) overlapsHeld(id types.DeviceID, count int) bool {
	for heldID, reg := range r.held {
		if heldID.Major != id.Major {
			continue
		}
		if id.Minor < heldID.Minor+uint32(reg.Count) && heldID.Minor < id.Minor+uint32(count) {
			return true
		}
	}
	return false
}

func (r *FileRegistrar) lockPath(id types.DeviceID) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d:%d.lock", id.Major, id.Minor))
}

func unlockAll(locks []*flock.Flock, logger *utils.Logger) {
	for i := len(locks) - 1; i >= 0; i-- {
		if err := locks[i].Unlock(); err != nil {
			logger.Warn("Failed to unlock %s: %v", locks[i].Path(), err)
		}
	}
}
