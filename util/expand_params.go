package util

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

const (
	pluginTagPrefix    = "plugin"
	pluginExpandValues = "expand"
)

// ExpandValues applies expansions to all string fields of the input
// struct that are tagged `plugin:"expand"`, recursing into tagged
// nested structs, maps, and slices. The input must be a pointer to a
// struct so that fields can be set in place.
func ExpandValues(input interface{}, expansions *Expansions) error {
	inputVal := reflect.ValueOf(input)
	if inputVal.Kind() != reflect.Ptr || inputVal.Elem().Kind() != reflect.Struct {
		return errors.New("input to expand must be a pointer to a struct")
	}
	return expandStruct(inputVal.Elem(), expansions)
}

// expandStruct expands the tagged fields of a single struct value.
func expandStruct(structVal reflect.Value, expansions *Expansions) error {
	structType := structVal.Type()
	for i := 0; i < structType.NumField(); i++ {
		fieldTag := structType.Field(i).Tag.Get(pluginTagPrefix)
		if !tagHasValue(fieldTag, pluginExpandValues) {
			continue
		}
		if err := expandValue(structVal.Field(i), expansions); err != nil {
			return errors.Wrapf(err, "expanding field '%s'", structType.Field(i).Name)
		}
	}
	return nil
}

func expandValue(val reflect.Value, expansions *Expansions) error {
	switch val.Kind() {
	case reflect.String:
		expanded, err := expansions.ExpandString(val.String())
		if err != nil {
			return err
		}
		val.SetString(expanded)
	case reflect.Struct:
		return expandStruct(val, expansions)
	case reflect.Ptr:
		if val.IsNil() {
			return nil
		}
		return expandValue(val.Elem(), expansions)
	case reflect.Map:
		return expandMap(val, expansions)
	case reflect.Slice:
		for i := 0; i < val.Len(); i++ {
			if err := expandValue(val.Index(i), expansions); err != nil {
				return err
			}
		}
	default:
		return errors.Errorf("cannot expand non-string field of kind '%s'", val.Kind())
	}
	return nil
}

// expandMap expands both the keys and values of a map[string]string.
func expandMap(val reflect.Value, expansions *Expansions) error {
	mapType := val.Type()
	if mapType.Key().Kind() != reflect.String || mapType.Elem().Kind() != reflect.String {
		return errors.New("only map[string]string fields can be expanded")
	}

	expanded := reflect.MakeMap(mapType)
	for _, keyVal := range val.MapKeys() {
		expandedKey, err := expansions.ExpandString(keyVal.String())
		if err != nil {
			return err
		}
		expandedVal, err := expansions.ExpandString(val.MapIndex(keyVal).String())
		if err != nil {
			return err
		}
		expanded.SetMapIndex(reflect.ValueOf(expandedKey), reflect.ValueOf(expandedVal))
	}
	val.Set(expanded)
	return nil
}

func tagHasValue(tag, value string) bool {
	for _, part := range strings.Split(tag, ",") {
		if part == value {
			return true
		}
	}
	return false
}
