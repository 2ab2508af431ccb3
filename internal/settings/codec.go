package settings

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

const tagName = "json"

// toDocument flattens a record into a document keyed by its json tags.
// Nested structs become nested maps.
func toDocument(v any) (map[string]any, error) {
	doc := make(map[string]any)
	if v == nil {
		return doc, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: tagName,
		Result:  &doc,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("flatten defaults: %w", err)
	}
	if err := addDeclared(doc, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return doc, nil
}

// addDeclared puts every declared field of a struct into doc, including the
// zero-valued ones the decoder leaves out for omitempty tags, so the
// environment overlay sees the full key set.
func addDeclared(doc map[string]any, rv reflect.Value) error {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(sf.Tag.Get(tagName), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if _, ok := doc[name]; ok {
			continue
		}

		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct {
			nested, err := toDocument(fv.Interface())
			if err != nil {
				return err
			}
			doc[name] = nested
			continue
		}
		doc[name] = fv.Interface()
	}
	return nil
}

// fromDocument decodes doc into a fresh T. Keys without a matching field are
// ignored; numbers, strings and booleans are converted where the field type
// requires it.
func fromDocument[T any](doc map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          tagName,
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(doc); err != nil {
		return out, &DecodeError{Cause: err}
	}
	return out, nil
}
