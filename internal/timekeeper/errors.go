package timekeeper

import "errors"

var (
	// ErrConfiguration is returned when a quantity that depends on an unset
	// setting is queried, or when an invalid setting is supplied.
	ErrConfiguration = errors.New("timekeeper: not configured")

	// ErrRuntimeUnavailable is returned when current-activity state is
	// queried while no activity is in progress.
	ErrRuntimeUnavailable = errors.New("timekeeper: no activity in progress")

	// ErrActivityInProgress is returned by StartActivity when another
	// activity is still current. Nested activities are not supported.
	ErrActivityInProgress = errors.New("timekeeper: activity already in progress")

	// ErrStopwatchState is returned when a stopwatch is started or stopped
	// out of order.
	ErrStopwatchState = errors.New("timekeeper: invalid stopwatch transition")
)
