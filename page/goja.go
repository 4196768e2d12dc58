package page

import (
	"fmt"

	"github.com/dop251/goja"
)

// GojaBag exposes a goja object as a PropertyBag. Membership follows the
// JavaScript `in` operator (own or inherited); only plain objects are
// traversable, functions and primitives are leaves.
type GojaBag struct {
	vm  *goja.Runtime
	obj *goja.Object
	in  goja.Callable
}

// FromGoja returns a bag over the runtime's global object
func FromGoja(vm *goja.Runtime) (*GojaBag, error) {
	v, err := vm.RunString(`(function(o, k) { return k in o; })`)
	if err != nil {
		return nil, fmt.Errorf("preparing membership test: %w", err)
	}
	in, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("membership test is not callable")
	}
	return &GojaBag{vm: vm, obj: vm.GlobalObject(), in: in}, nil
}

func (b *GojaBag) Has(key string) bool {
	res, err := b.in(goja.Undefined(), b.obj, b.vm.ToValue(key))
	if err != nil {
		return false
	}
	return res.ToBoolean()
}

func (b *GojaBag) Get(key string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("reading %q: %v", key, r)
		}
	}()

	v := b.obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, isFunc := goja.AssertFunction(v); !isFunc {
			return &GojaBag{vm: b.vm, obj: obj, in: b.in}, nil
		}
	}
	return v.Export(), nil
}

// NewScriptRuntime returns a runtime whose global object is also reachable
// as window, self and globalThis, the way page scripts expect.
func NewScriptRuntime() *goja.Runtime {
	vm := goja.New()
	global := vm.GlobalObject()
	vm.Set("window", global)
	vm.Set("self", global)
	return vm
}

// ScriptError is a page script that threw while being evaluated
type ScriptError struct {
	Name string
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Name, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// RunScripts evaluates page scripts in order. A script that throws does not
// stop later ones, the same way a browser keeps going after an error.
func RunScripts(vm *goja.Runtime, names []string, sources []string) []error {
	var errs []error
	for i, src := range sources {
		name := fmt.Sprintf("script-%d", i)
		if i < len(names) {
			name = names[i]
		}
		if _, err := vm.RunScript(name, src); err != nil {
			errs = append(errs, &ScriptError{Name: name, Err: err})
		}
	}
	return errs
}
