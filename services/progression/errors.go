package progression

import (
	"errors"
	"fmt"
	"time"

	"guild-leveling/pkg/errutil"
	"guild-leveling/services/guild"
)

var (
	// ErrGrantRejected marks a passive grant or daily claim that was refused. It is not a failure.
	ErrGrantRejected = errors.New("grant rejected")
	// ErrConcurrentWrite is returned when every compare-and-swap attempt lost to another writer.
	ErrConcurrentWrite   = errors.New("concurrent write conflict")
	ErrStoreUnavailable  = errors.New("progress store unavailable")
	ErrInvalidAdminInput = errors.New("invalid admin input")
	ErrInvalidActivity   = errors.New("invalid activity event")
	ErrClaimOnCooldown   = errors.New("daily claim on cooldown")
	ErrNotFound          = errors.New("progress not found")
)

// ClaimCooldownError carries the wait before the next daily claim.
type ClaimCooldownError struct {
	Remaining time.Duration
}

func (e *ClaimCooldownError) Error() string {
	return fmt.Sprintf("%s: next claim in %s", ErrClaimOnCooldown, e.Remaining.Round(time.Second))
}

func (e *ClaimCooldownError) Is(target error) bool {
	return target == ErrClaimOnCooldown
}

// ToAPIError maps engine and policy errors onto errutil statuses for transports.
func ToAPIError(err error) error {
	var be errutil.BaseError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &be):
		return be
	case errors.Is(err, ErrInvalidAdminInput), errors.Is(err, ErrInvalidActivity), errors.Is(err, guild.ErrInvalidPolicy):
		return errutil.BadRequest(err.Error(), nil)
	case errors.Is(err, guild.ErrRewardNotFound), errors.Is(err, guild.ErrBonusNotFound), errors.Is(err, ErrNotFound):
		return errutil.NotFound(err.Error(), nil)
	case errors.Is(err, ErrClaimOnCooldown):
		return errutil.TooManyRequest(err.Error(), nil)
	case errors.Is(err, ErrGrantRejected):
		return errutil.New(errutil.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConcurrentWrite):
		return errutil.Conflict("progress was modified concurrently, retry", err)
	case errors.Is(err, ErrStoreUnavailable):
		return errutil.ServiceUnavailable("progress store unavailable", err)
	default:
		return errutil.Internal("internal error", err)
	}
}
