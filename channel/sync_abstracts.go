package channel

import (
	"fmt"
	"sync"

	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// mutexData is the data payload wrapped by the mutex abstract vtable.
type mutexData struct {
	mu *sync.Mutex
}

// rwlockData is the data payload wrapped by the rwlock abstract vtable.
type rwlockData struct {
	mu *sync.RWMutex
}

// MutexVTable is the abstract vtable for first-class mutex values: a plain
// stdlib sync.Mutex wrapped so it can flow through Values the same way a
// table or fiber does. Lock/Unlock/TryLock are exposed as Get-dispatched
// cfunctions rather than opcodes, matching how the rest of the runtime
// surfaces abstract behavior to compiled code.
var MutexVTable = &types.AbstractVTable{
	Name:     "mutex",
	ToString: func(data any) string { return fmt.Sprintf("mutex(%p)", data.(*mutexData).mu) },
	Get:      mutexGet,
}

// RWLockVTable is the abstract vtable for first-class reader/writer lock
// values, wrapping stdlib sync.RWMutex.
var RWLockVTable = &types.AbstractVTable{
	Name:     "rwlock",
	ToString: func(data any) string { return fmt.Sprintf("rwlock(%p)", data.(*rwlockData).mu) },
	Get:      rwlockGet,
}

// NewMutex returns a fresh unlocked mutex abstract value.
func NewMutex() *types.Abstract {
	return types.NewAbstract(MutexVTable, &mutexData{mu: &sync.Mutex{}})
}

// NewRWLock returns a fresh unlocked rwlock abstract value.
func NewRWLock() *types.Abstract {
	return types.NewAbstract(RWLockVTable, &rwlockData{mu: &sync.RWMutex{}})
}

func keywordText(key types.Value) (string, error) {
	kw, ok := key.(types.Keyword)
	if !ok {
		return "", fmt.Errorf("mutex: key must be a keyword, got %s", key.Type())
	}
	return kw.Go(), nil
}

func mutexGet(data any, key types.Value) (types.Value, error) {
	name, err := keywordText(key)
	if err != nil {
		return nil, err
	}
	m := data.(*mutexData)
	switch name {
	case "lock":
		return noArgMethod("mutex-lock", func() (types.Value, error) { m.mu.Lock(); return types.Nil, nil }), nil
	case "unlock":
		return noArgMethod("mutex-unlock", func() (types.Value, error) { m.mu.Unlock(); return types.Nil, nil }), nil
	case "try-lock":
		return noArgMethod("mutex-try-lock", func() (types.Value, error) { return types.Bool(m.mu.TryLock()), nil }), nil
	}
	return nil, fmt.Errorf("mutex: no such method %q", name)
}

func rwlockGet(data any, key types.Value) (types.Value, error) {
	name, err := keywordText(key)
	if err != nil {
		return nil, err
	}
	m := data.(*rwlockData)
	switch name {
	case "rlock":
		return noArgMethod("rwlock-rlock", func() (types.Value, error) { m.mu.RLock(); return types.Nil, nil }), nil
	case "runlock":
		return noArgMethod("rwlock-runlock", func() (types.Value, error) { m.mu.RUnlock(); return types.Nil, nil }), nil
	case "lock":
		return noArgMethod("rwlock-lock", func() (types.Value, error) { m.mu.Lock(); return types.Nil, nil }), nil
	case "unlock":
		return noArgMethod("rwlock-unlock", func() (types.Value, error) { m.mu.Unlock(); return types.Nil, nil }), nil
	case "try-lock":
		return noArgMethod("rwlock-try-lock", func() (types.Value, error) { return types.Bool(m.mu.TryLock()), nil }), nil
	}
	return nil, fmt.Errorf("rwlock: no such method %q", name)
}

// noArgMethod adapts a zero-argument mutex/rwlock operation into a
// machine.CFunction so it can be called the same way as any other
// compiled function value.
func noArgMethod(name string, fn func() (types.Value, error)) *machine.CFunction {
	return machine.NewCFunction(name, func(vm *machine.VM, fr *machine.Fiber, args *types.Tuple) (types.Value, error) {
		return fn()
	})
}
