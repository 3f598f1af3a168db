package respool

import (
	"fmt"
	"reflect"
	"strings"
)

// Param finds a path in the argument by parameter name. It looks at, in order:
//   - struct fields tagged `pool:"name"`
//   - struct fields whose json tag or Go name matches name (case-insensitive)
//   - the value under key name in a map with string keys
//   - the argument itself when name is "" (a string type or fmt.Stringer)
//
// The value must be a non-empty string, *string or fmt.Stringer.
func Param[A any](name string) PathFunc[A] {
	return func(a A) (string, bool) {
		return lookupParam(reflect.ValueOf(a), name)
	}
}

func lookupParam(v reflect.Value, name string) (string, bool) {
	if name == "" {
		if !v.IsValid() {
			return "", false
		}
		return pathValue(v)
	}
	v = indirect(v)
	if !v.IsValid() {
		return "", false
	}
	switch v.Kind() {
	case reflect.Struct:
		if f, ok := structField(v, name); ok {
			return pathValue(f)
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return "", false
		}
		e := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if e.IsValid() {
			return pathValue(e)
		}
	}
	return "", false
}

func structField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	byTag, byName := -1, -1
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if tag := sf.Tag.Get("pool"); tag == name {
			return v.Field(i), true
		}
		if tag, _, _ := strings.Cut(sf.Tag.Get("json"), ","); tag != "" && strings.EqualFold(tag, name) && byTag < 0 {
			byTag = i
		}
		if strings.EqualFold(sf.Name, name) && byName < 0 {
			byName = i
		}
	}
	if byTag >= 0 {
		return v.Field(byTag), true
	}
	if byName >= 0 {
		return v.Field(byName), true
	}
	return reflect.Value{}, false
}

func pathValue(v reflect.Value) (string, bool) {
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			if v.Kind() == reflect.Pointer && v.IsNil() {
				return "", false
			}
			out := s.String()
			return out, out != ""
		}
	}
	v = indirect(v)
	if !v.IsValid() || v.Kind() != reflect.String {
		return "", false
	}
	return v.String(), v.String() != ""
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
