package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/spotmargin/pkg/app/core/apperr"
)

// Control owns the single exchange configuration and the pause flag.
// Callers serialize access; Control itself does no locking.
type Control struct {
	cfg    Config
	paused bool
}

// NewControl validates cfg and wraps it.
func NewControl(cfg Config) (*Control, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Control{cfg: cfg}, nil
}

// Config returns a copy of the current configuration.
func (c *Control) Config() Config { return c.cfg }

func (c *Control) Paused() bool { return c.paused }

// RequireOwner fails with ErrNotConfigOwner unless caller is the owner.
func (c *Control) RequireOwner(caller common.Address) error {
	if caller != c.cfg.Owner {
		return fmt.Errorf("caller %s: %w", caller.Hex(), apperr.ErrNotConfigOwner)
	}
	return nil
}

// RequireActive fails with ErrOperationPaused while the exchange is paused.
func (c *Control) RequireActive() error {
	if c.paused {
		return apperr.ErrOperationPaused
	}
	return nil
}

// Update replaces the whole configuration. Either every field applies or none does.
func (c *Control) Update(caller common.Address, next Config) error {
	if err := c.RequireOwner(caller); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.cfg = next
	return nil
}

// Pause sets the pause flag. It reports whether the flag changed.
func (c *Control) Pause(caller common.Address) (bool, error) {
	if err := c.RequireOwner(caller); err != nil {
		return false, err
	}
	if c.paused {
		return false, nil
	}
	c.paused = true
	return true, nil
}

// Unpause clears the pause flag. It reports whether the flag changed.
func (c *Control) Unpause(caller common.Address) (bool, error) {
	if err := c.RequireOwner(caller); err != nil {
		return false, err
	}
	if !c.paused {
		return false, nil
	}
	c.paused = false
	return true, nil
}
