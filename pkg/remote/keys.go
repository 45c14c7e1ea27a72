package remote

import (
	"fmt"
	"reflect"
	"strings"
)

// FieldKey returns a function that reads field from a record and renders
// it as a collection key. Maps are indexed by key; structs match the json
// tag first and then the Go field name, case-insensitively. A missing or
// nil field yields "".
func FieldKey[R any](field string) func(R) string {
	return func(record R) string {
		return keyString(lookupField(reflect.ValueOf(record), field))
	}
}

func lookupField(v reflect.Value, field string) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}
		}
		return v.MapIndex(reflect.ValueOf(field).Convert(v.Type().Key()))
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if name == field || (name == "" && strings.EqualFold(sf.Name, field)) {
				return v.Field(i)
			}
		}
	}
	return reflect.Value{}
}

func keyString(v reflect.Value) string {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return ""
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
	}
	return fmt.Sprint(v.Interface())
}
