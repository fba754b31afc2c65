package compiler

// Error marks compiler output that could not be used: empty, malformed, or
// failing the document contract.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "compiler: " + e.Reason + ": " + e.Err.Error()
	}
	return "compiler: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }
