package services

import (
	"fmt"
	"reflect"
)

// Inject calls ctor, resolving each of its parameters from l. ctor must
// return one value, optionally followed by an error.
func Inject(l Lookup, ctor any) (any, error) {
	if ctor == nil {
		return nil, fmt.Errorf("inject: nil constructor")
	}
	fn := reflect.ValueOf(ctor)
	ft := fn.Type()
	if ft.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("inject: %T is not a constructor function", ctor)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("inject: %s is variadic", ft)
	}
	if n := ft.NumOut(); n == 0 || n > 2 || (n == 2 && ft.Out(1) != typeOfError) {
		return nil, fmt.Errorf("inject: %s must return a value and optionally an error", ft)
	}

	args := make([]reflect.Value, ft.NumIn())
	for i := range args {
		pt := ft.In(i)
		v, err := l.Get(pt)
		if err != nil {
			return nil, fmt.Errorf("inject %s parameter %d: %w", ft, i, err)
		}
		arg := reflect.New(pt).Elem()
		if v != nil {
			rv := reflect.ValueOf(v)
			if !rv.Type().AssignableTo(pt) {
				return nil, fmt.Errorf("inject %s parameter %d: %T is not assignable to %s", ft, i, v, pt)
			}
			arg.Set(rv)
		}
		args[i] = arg
	}

	out := fn.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}
