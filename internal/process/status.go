package process

// Status is the outcome of a tool invocation or a build.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusCancelled
)

// InterruptedExitCode is the tool's exit code for a user-requested interruption.
const InterruptedExitCode = 8

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "ERROR"
	}
}

// StatusFromExitCode maps an exit code to a Status: 0 is OK, the interruption
// code is CANCELLED and everything else is ERROR.
func StatusFromExitCode(code int) Status {
	switch code {
	case 0:
		return StatusOK
	case InterruptedExitCode:
		return StatusCancelled
	default:
		return StatusError
	}
}
