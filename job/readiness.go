package job

// InputStatus reports whether a job's external inputs allow a dispatch.
type InputStatus uint8

const (
	// InputReady allows the dispatch.
	InputReady InputStatus = iota
	// InputWait defers the dispatch to a later frame without error.
	InputWait
	// InputFail abandons this attempt and reports a dispatch error.
	InputFail
)

// String returns the status name.
func (s InputStatus) String() string {
	switch s {
	case InputReady:
		return "Ready"
	case InputWait:
		return "Wait"
	case InputFail:
		return "Fail"
	}
	return "Unknown"
}

// Combine merges two statuses. Fail dominates, then Wait.
func (s InputStatus) Combine(o InputStatus) InputStatus {
	if s == InputFail || o == InputFail {
		return InputFail
	}
	if s == InputReady && o == InputReady {
		return InputReady
	}
	return InputWait
}

// CombineAll folds statuses with Combine. An empty list is ready.
func CombineAll(statuses ...InputStatus) InputStatus {
	out := InputReady
	for _, s := range statuses {
		out = out.Combine(s)
	}
	return out
}
