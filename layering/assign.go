package layering

import (
	"fmt"
	"reflect"
)

// Assign shallow-merges partial into base and returns the result. base is
// never modified.
//
// For maps every key of partial overwrites the key in base. For structs every
// exported top-level field of partial that is not the zero value overwrites
// the field in base. Pointers to structs or maps are followed. Any other kind
// cannot be merged and returns an error.
func Assign[T any](base, partial T) (T, error) {
	var zero T
	merged, err := assignValue(reflect.ValueOf(base), reflect.ValueOf(partial))
	if err != nil {
		return zero, err
	}
	if !merged.IsValid() {
		return zero, nil
	}
	return merged.Interface().(T), nil
}

func assignValue(base, partial reflect.Value) (reflect.Value, error) {
	if !partial.IsValid() {
		return cloneValue(base), nil
	}
	if !base.IsValid() {
		return cloneValue(partial), nil
	}

	switch partial.Kind() {
	case reflect.Pointer:
		if partial.IsNil() {
			return cloneValue(base), nil
		}
		if base.IsNil() {
			return cloneValue(partial), nil
		}
		merged, err := assignValue(base.Elem(), partial.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(partial.Type().Elem())
		out.Elem().Set(merged)
		return out, nil
	case reflect.Map:
		out := reflect.MakeMapWithSize(partial.Type(), base.Len()+partial.Len())
		if !base.IsNil() {
			iter := base.MapRange()
			for iter.Next() {
				out.SetMapIndex(iter.Key(), iter.Value())
			}
		}
		iter := partial.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out, nil
	case reflect.Struct:
		out := reflect.New(partial.Type()).Elem()
		out.Set(base)
		for i := 0; i < partial.NumField(); i++ {
			field := out.Field(i)
			if !field.CanSet() || partial.Field(i).IsZero() {
				continue
			}
			field.Set(partial.Field(i))
		}
		return out, nil
	default:
		return reflect.Value{}, fmt.Errorf("layering: cannot assign into %s", partial.Kind())
	}
}
