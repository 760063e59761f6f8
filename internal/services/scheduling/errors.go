package scheduling

import "errors"

var (
	ErrNoSuchActivity = errors.New("no such scheduled activity")
	ErrNoStore        = errors.New("scheduling needs an activity store and an event store")
	ErrNoPlans        = errors.New("scheduling needs a plan store")
)
