// Package apperr defines the error taxonomy shared by every ledger component.
//
// Call sites wrap these sentinels with context using fmt.Errorf("...: %w", ...)
// so callers can match them with errors.Is and classify them with GroupOf.
package apperr

import "errors"

// Group classifies an error kind.
type Group uint8

const (
	GroupUnknown Group = iota
	GroupRegistry
	GroupValidation
	GroupAuthorization
	GroupState
	GroupCapacity
	GroupResource
)

func (g Group) String() string {
	switch g {
	case GroupRegistry:
		return "registry"
	case GroupValidation:
		return "validation"
	case GroupAuthorization:
		return "authorization"
	case GroupState:
		return "state"
	case GroupCapacity:
		return "capacity"
	case GroupResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Kind is a sentinel error that knows its group.
type Kind struct {
	name  string
	group Group
}

func (k *Kind) Error() string { return k.name }

// Group returns the taxonomy group of the kind.
func (k *Kind) Group() Group { return k.group }

func newKind(name string, g Group) *Kind { return &Kind{name: name, group: g} }

// Registry
var (
	ErrNotListed     = newKind("not listed", GroupRegistry)
	ErrAlreadyListed = newKind("already listed", GroupRegistry)
	ErrAssetInUse    = newKind("asset in use", GroupRegistry)
	ErrPairInUse     = newKind("pair in use", GroupRegistry)
	ErrPairNotListed = newKind("pair not listed", GroupRegistry)
)

// Validation
var (
	ErrVolumeBelowLimit  = newKind("volume below limit", GroupValidation)
	ErrVolumeAboveLimit  = newKind("volume above limit", GroupValidation)
	ErrDepositBelowLimit = newKind("deposit below limit", GroupValidation)
	ErrDepositAboveLimit = newKind("deposit above limit", GroupValidation)
	ErrInvalidPrice      = newKind("invalid price", GroupValidation)
	ErrInvalidOrder      = newKind("invalid order", GroupValidation)
	ErrInvalidConfig     = newKind("invalid config", GroupValidation)
)

// Authorization
var (
	ErrNotOrderOwner    = newKind("not order owner", GroupAuthorization)
	ErrNotConfigOwner   = newKind("not config owner", GroupAuthorization)
	ErrInvalidSignature = newKind("invalid signature", GroupAuthorization)
	ErrNonceMismatch    = newKind("nonce mismatch", GroupAuthorization)
)

// State
var (
	ErrOrderNotCancellable = newKind("order not cancellable", GroupState)
	ErrOrderNotFound       = newKind("order not found", GroupState)
	ErrOperationPaused     = newKind("operation paused", GroupState)
	ErrMarginCallActive    = newKind("margin call active", GroupState)
	ErrNoPosition          = newKind("no open position", GroupState)
)

// Capacity
var (
	ErrMarginAmountBelowLimit = newKind("margin amount below limit", GroupCapacity)
	ErrMarginAmountAboveLimit = newKind("margin amount above limit", GroupCapacity)
)

// Resource
var (
	ErrStorageOverflow = newKind("storage overflow", GroupResource)
)

// GroupOf returns the group of the first Kind found in err's chain.
func GroupOf(err error) Group {
	var k *Kind
	if errors.As(err, &k) {
		return k.group
	}
	return GroupUnknown
}

// KindOf returns the Kind in err's chain, or nil.
func KindOf(err error) *Kind {
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}
