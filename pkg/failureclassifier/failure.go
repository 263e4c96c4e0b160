package failureclassifier

import "fmt"

// Surface is where a failure was captured
type Surface string

const (
	SurfaceUIThread    Surface = "ui_thread"
	SurfaceBackground  Surface = "background"
	SurfaceTermination Surface = "termination"
	SurfaceExit        Surface = "exit"
)

// Failure describes one captured panic or error
type Failure struct {
	Surface Surface
	// Type is the dynamic type of the panic value or error, e.g. "runtime.boundsError"
	Type    string
	Message string
	Stack   string
	// Recovered holds the original panic value or error
	Recovered interface{}
}

// FromPanic describes a value returned by recover
func FromPanic(surface Surface, recovered interface{}, stack []byte) Failure {
	failure := Failure{
		Surface:   surface,
		Type:      fmt.Sprintf("%T", recovered),
		Stack:     string(stack),
		Recovered: recovered,
	}
	switch value := recovered.(type) {
	case error:
		failure.Message = value.Error()
	case string:
		failure.Message = value
	default:
		failure.Message = fmt.Sprint(value)
	}
	return failure
}

// FromError describes an error reported by a collaborator, e.g. the UI toolkit
func FromError(surface Surface, err error, stack []byte) Failure {
	failure := Failure{
		Surface:   surface,
		Type:      fmt.Sprintf("%T", err),
		Stack:     string(stack),
		Recovered: err,
	}
	if err != nil {
		failure.Message = err.Error()
	}
	return failure
}

func (f Failure) String() string {
	return fmt.Sprintf("%s failure (%s): %s", f.Surface, f.Type, f.Message)
}
