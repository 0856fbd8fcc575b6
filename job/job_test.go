package job

import (
	"errors"
	"math"
	"testing"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := FingerprintOf("terrain", []byte{1, 2, 3})
	b := FingerprintOf("terrain", []byte{1, 2, 3})
	if a != b {
		t.Errorf("same input gave %s and %s", a, b)
	}
}

func TestFingerprintDistinguishesTypeAndParams(t *testing.T) {
	base := FingerprintOf("terrain", []byte{1, 2, 3})
	tests := []struct {
		name string
		typ  TypeID
		data []byte
	}{
		{"other type", "erosion", []byte{1, 2, 3}},
		{"other params", "terrain", []byte{1, 2, 4}},
		{"shorter params", "terrain", []byte{1, 2}},
		{"boundary shift", "terrain\x01", []byte{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FingerprintOf(tt.typ, tt.data); got == base {
				t.Errorf("fingerprint collided with base: %s", got)
			}
		})
	}
}

func TestPriorityDefault(t *testing.T) {
	var zero Priority
	if zero.Compare(NonCritical(1)) != 0 {
		t.Errorf("zero priority = %s, want NonCritical(1)", zero)
	}
	if NonCritical(0).Weight() != 1 {
		t.Errorf("NonCritical(0).Weight() = %d, want 1", NonCritical(0).Weight())
	}
}

func TestPriorityAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b Priority
		want Priority
	}{
		{"weights add", NonCritical(1), NonCritical(2), NonCritical(3)},
		{"critical absorbs left", Critical(), NonCritical(5), Critical()},
		{"critical absorbs right", NonCritical(5), Critical(), Critical()},
		{"saturates", NonCritical(math.MaxUint32), NonCritical(1), NonCritical(math.MaxUint32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Add(tt.b); got != tt.want {
				t.Errorf("%s + %s = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestPriorityCompare(t *testing.T) {
	if Critical().Compare(NonCritical(math.MaxUint32)) != 1 {
		t.Error("critical should outrank any weight")
	}
	if NonCritical(2).Compare(NonCritical(3)) != -1 {
		t.Error("weight 2 should rank below weight 3")
	}
	if Critical().Compare(Critical()) != 0 {
		t.Error("critical should equal critical")
	}
}

func TestInputStatusCombine(t *testing.T) {
	tests := []struct {
		a, b, want InputStatus
	}{
		{InputReady, InputReady, InputReady},
		{InputReady, InputWait, InputWait},
		{InputWait, InputReady, InputWait},
		{InputWait, InputFail, InputFail},
		{InputFail, InputReady, InputFail},
	}
	for _, tt := range tests {
		if got := tt.a.Combine(tt.b); got != tt.want {
			t.Errorf("%s.Combine(%s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
	if CombineAll() != InputReady {
		t.Error("empty CombineAll should be ready")
	}
}

func TestStateString(t *testing.T) {
	f := Fingerprint(0xab)
	tests := []struct {
		s    State
		want string
	}{
		{Idle(), "Idle"},
		{Pending(f), "Pending(00000000000000ab)"},
		{InFlight(f, 3), "InFlight(00000000000000ab, 3)"},
		{Ready(f, 4), "Ready(00000000000000ab, 4)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrorsUnwrap(t *testing.T) {
	err := error(&DispatchError{Entity: 1, Type: "t", Err: ErrInputsFailed})
	if !errors.Is(err, ErrInputsFailed) {
		t.Error("DispatchError should unwrap to its cause")
	}
	var de *DispatchError
	if !errors.As(err, &de) || de.Entity != 1 {
		t.Error("errors.As should recover the DispatchError")
	}
	cfg := &ConfigurationError{Type: "t", Reason: "no output binding"}
	if cfg.Error() != `gigs: configuration of "t": no output binding` {
		t.Errorf("unexpected message %q", cfg.Error())
	}
}
