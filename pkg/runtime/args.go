package runtime

import (
	"fmt"

	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// ArgumentKind discriminates Argument.
type ArgumentKind uint8

// Argument kinds. A scalar kind binds only to an argument declared with
// exactly that type.
const (
	// ArgInt32 binds an "int;4" argument.
	ArgInt32 ArgumentKind = iota + 1

	// ArgUint32 binds a "uint;4" argument.
	ArgUint32

	// ArgInt64 binds a "long;8" argument.
	ArgInt64

	// ArgUint64 binds a "ulong;8" argument.
	ArgUint64

	// ArgPointer is host memory registered with the device for the
	// duration of one execution.
	ArgPointer

	// ArgNamedObject is a device object opened by its global name.
	ArgNamedObject
)

var kindNames = [...]string{
	ArgInt32:       "int",
	ArgUint32:      "uint",
	ArgInt64:       "long",
	ArgUint64:      "ulong",
	ArgPointer:     "pointer",
	ArgNamedObject: "named object",
}

// String implements fmt.Stringer.
func (k ArgumentKind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ArgumentKind(%d)", uint8(k))
}

// Width returns the size in bytes of a scalar kind, or 0.
func (k ArgumentKind) Width() int {
	switch k {
	case ArgInt32, ArgUint32:
		return 4
	case ArgInt64, ArgUint64:
		return 8
	}
	return 0
}

// Argument is one bound kernel argument. Only the fields of its Kind are set.
type Argument struct {
	Kind ArgumentKind

	// Value holds a scalar already extended to 64 bits.
	Value uint64

	// Mem is the host memory of a pointer.
	Mem []byte

	// Name is the global name of a named object.
	Name uint32
}

func (a Argument) isBuffer() bool {
	return a.Kind == ArgPointer || a.Kind == ArgNamedObject
}

// State is the progress of a PreparedExecution.
type State uint8

// Execution states. Any state may move to StateFailed.
const (
	StateUnvalidated State = iota
	StateValidated
	StateLaidOut
	StateSubmitted
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	StateUnvalidated: "unvalidated",
	StateValidated:   "validated",
	StateLaidOut:     "laid out",
	StateSubmitted:   "submitted",
	StateCompleted:   "completed",
	StateFailed:      "failed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// PreparedExecution collects the arguments for one run of a kernel.
// Arguments are bound in declaration order. A PreparedExecution runs at
// most once and is not safe for concurrent use.
type PreparedExecution struct {
	kernel *Kernel
	args   []Argument
	state  State
}

// Kernel returns the kernel being prepared.
func (p *PreparedExecution) Kernel() *Kernel { return p.kernel }

// State returns the execution's progress.
func (p *PreparedExecution) State() State { return p.state }

// Arguments returns the arguments bound so far.
func (p *PreparedExecution) Arguments() []Argument { return p.args }

// AddInt32 binds a signed 32 bit scalar.
func (p *PreparedExecution) AddInt32(v int32) error {
	return p.bind(Argument{Kind: ArgInt32, Value: uint64(int64(v))})
}

// AddUint32 binds an unsigned 32 bit scalar.
func (p *PreparedExecution) AddUint32(v uint32) error {
	return p.bind(Argument{Kind: ArgUint32, Value: uint64(v)})
}

// AddInt64 binds a signed 64 bit scalar.
func (p *PreparedExecution) AddInt64(v int64) error {
	return p.bind(Argument{Kind: ArgInt64, Value: uint64(v)})
}

// AddUint64 binds an unsigned 64 bit scalar.
func (p *PreparedExecution) AddUint64(v uint64) error {
	return p.bind(Argument{Kind: ArgUint64, Value: v})
}

// AddPointer binds host memory as a buffer argument. mem must start and
// end on a device page boundary and stay valid until Execute returns.
func (p *PreparedExecution) AddPointer(mem []byte) error {
	if len(mem) == 0 {
		return fmt.Errorf("%w: empty buffer for argument %d", ErrArgumentMismatch, len(p.args))
	}
	page := p.kernel.rt.caps.PageSize
	addr := uint64(uintptr(addrOf(mem)))
	if !types.IsAligned(addr, page) || !types.IsAligned(uint64(len(mem)), page) {
		return fmt.Errorf("%w: argument %d at 0x%x with length %d, page size %d",
			ErrUnalignedBuffer, len(p.args), addr, len(mem), page)
	}
	return p.bind(Argument{Kind: ArgPointer, Mem: mem})
}

// AddNamedObject binds the device object exported under name as a buffer
// argument.
func (p *PreparedExecution) AddNamedObject(name uint32) error {
	return p.bind(Argument{Kind: ArgNamedObject, Name: name})
}

func (p *PreparedExecution) bind(a Argument) error {
	if p.state != StateUnvalidated {
		return fmt.Errorf("%w: execution is %s", ErrAlreadyExecuted, p.state)
	}
	i := len(p.args)
	if i >= len(p.kernel.args) {
		return fmt.Errorf("%w: kernel %q declares %d", ErrTooManyArguments, p.kernel.Name(), len(p.kernel.args))
	}

	spec := p.kernel.args[i]
	switch a.Kind {
	case ArgInt32, ArgUint32, ArgInt64, ArgUint64:
		if spec.kind != argScalar || spec.scalar != a.Kind {
			return fmt.Errorf("%w: %s for argument %s", ErrArgumentMismatch, a.Kind, spec)
		}
	case ArgPointer, ArgNamedObject:
		if spec.kind != argBuffer {
			return fmt.Errorf("%w: %s for argument %s", ErrArgumentMismatch, a.Kind, spec)
		}
	default:
		return fmt.Errorf("%w: unknown argument kind %d", ErrArgumentMismatch, a.Kind)
	}
	p.args = append(p.args, a)
	return nil
}
