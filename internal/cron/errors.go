package cron

import (
	"errors"
	"fmt"

	cronlib "github.com/robfig/cron/v3"
)

var (
	ErrAlreadyInitialized = errors.New("cron: jobs already initialized")
	ErrNilTrigger         = errors.New("cron: trigger func is nil")
)

// ScheduleParseError reports a schedule expression that cannot be armed.
type ScheduleParseError struct {
	Schedule string
	Err      error
}

func (e *ScheduleParseError) Error() string {
	return fmt.Sprintf("invalid schedule %q: %v", e.Schedule, e.Err)
}

func (e *ScheduleParseError) Unwrap() error {
	return e.Err
}

// scheduleParser accepts standard 5-field expressions and descriptors such
// as "@daily" or "@every 30m".
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression. Failures are *ScheduleParseError.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, &ScheduleParseError{Schedule: expr, Err: err}
	}
	return schedule, nil
}
