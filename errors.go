package cellular

import (
	"errors"
)

// Framework errors
var (
	// State machine errors
	ErrInvalidTransition     = errors.New("invalid lifecycle transition")
	ErrTransitionInProgress  = errors.New("transition attempted while listeners are running")
	ErrUnknownState          = errors.New("unknown lifecycle state")
	ErrListenerNil           = errors.New("listener cannot be nil")
	ErrSubscriptionCancelled = errors.New("subscription already cancelled")

	// Registry errors
	ErrUnknownUnit       = errors.New("unit not found")
	ErrUnitIDEmpty       = errors.New("unit id cannot be empty")
	ErrDuplicateUnit     = errors.New("unit already registered")
	ErrUnitNil           = errors.New("unit cannot be nil")
	ErrFrameworkStopped  = errors.New("framework has been stopped")
	ErrIdentityExhausted = errors.New("identity provider returned an empty id")

	// Hierarchy errors
	ErrChildAlreadyAttached = errors.New("child already attached to a parent")
	ErrChildNotAttached     = errors.New("child not attached to this parent")
	ErrAttachToSelf         = errors.New("unit cannot be its own child")
	ErrDerivedState         = errors.New("state is derived from children and cannot be set directly")

	// Property errors
	ErrPropertyKeyEmpty = errors.New("property key cannot be empty")
	ErrPropertyNotFound = errors.New("property not found")
	ErrPropertyCast     = errors.New("property value cannot be converted to requested type")

	// Health and recovery errors
	ErrRecoveryExhausted = errors.New("all recovery strategies failed")
	ErrNoProbe           = errors.New("no dependency probe configured")
	ErrStrategyTimeout   = errors.New("recovery strategy exceeded its timeout")

	// Persistence errors
	ErrPersistenceFailure = errors.New("persistence operation failed")
	ErrSnapshotNotFound   = errors.New("no snapshot stored for unit")
	ErrSnapshotVersion    = errors.New("unsupported snapshot version")
	ErrStoreNil           = errors.New("snapshot store cannot be nil")

	// Distribution errors
	ErrPublishFailure  = errors.New("failed to publish state announcement")
	ErrChannelNil      = errors.New("distribution channel cannot be nil")
	ErrDistributorDown = errors.New("distributor is not running")

	// Configuration errors
	ErrConfigPathEmpty = errors.New("config path cannot be empty")
	ErrConfigFormat    = errors.New("unsupported config file format")
	ErrConfigInvalid   = errors.New("config validation failed")
	ErrObserverNil     = errors.New("observer cannot be nil")
)
