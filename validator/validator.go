// Package validator checks configuration structs field by field.
package validator

import (
	"fmt"
	"reflect"
	"strings"
)

// Validator checks one property of a struct value
type Validator interface {
	Validate(data interface{}) error
}

// fieldOf returns the named field of data, which must be a struct or a pointer to one
func fieldOf(data interface{}, name string) (reflect.Value, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%s: data must be a struct, got %s", name, v.Kind())
	}

	field := v.FieldByName(name)
	if !field.IsValid() {
		return reflect.Value{}, fmt.Errorf("field %s does not exist", name)
	}
	return field, nil
}

// label is the name used in error messages: the config key when set
func label(key, field string) string {
	if key != "" {
		return key
	}
	return field
}

// RangeValidator checks that a numeric field lies in [Min, Max]
type RangeValidator struct {
	Field string
	// Key is the config key reported in errors, e.g. "printer.port"
	Key string
	Min float64
	Max float64
}

func (rv *RangeValidator) Validate(data interface{}) error {
	field, err := fieldOf(data, rv.Field)
	if err != nil {
		return err
	}

	var value float64
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		value = field.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		value = float64(field.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		value = float64(field.Uint())
	default:
		return fmt.Errorf("%s is not numeric", label(rv.Key, rv.Field))
	}

	if value < rv.Min || value > rv.Max {
		return fmt.Errorf("%s value %g is outside [%g, %g]", label(rv.Key, rv.Field), value, rv.Min, rv.Max)
	}
	return nil
}

// RequiredValidator checks that a string field is not blank
type RequiredValidator struct {
	Field string
	Key   string
}

func (r *RequiredValidator) Validate(data interface{}) error {
	field, err := fieldOf(data, r.Field)
	if err != nil {
		return err
	}
	if field.Kind() != reflect.String {
		return fmt.Errorf("%s is not a string", label(r.Key, r.Field))
	}
	if strings.TrimSpace(field.String()) == "" {
		return fmt.Errorf("%s is required", label(r.Key, r.Field))
	}
	return nil
}

// OneOfValidator checks that a string field holds one of Values, ignoring case
type OneOfValidator struct {
	Field  string
	Key    string
	Values []string
}

func (o *OneOfValidator) Validate(data interface{}) error {
	field, err := fieldOf(data, o.Field)
	if err != nil {
		return err
	}
	if field.Kind() != reflect.String {
		return fmt.Errorf("%s is not a string", label(o.Key, o.Field))
	}
	for _, allowed := range o.Values {
		if strings.EqualFold(field.String(), allowed) {
			return nil
		}
	}
	return fmt.Errorf("%s %q is not one of %s", label(o.Key, o.Field), field.String(), strings.Join(o.Values, ", "))
}

// All runs every validator against data and collects the failures
func All(data interface{}, validators ...Validator) []error {
	var errs []error
	for _, v := range validators {
		if err := v.Validate(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
