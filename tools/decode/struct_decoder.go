package decode

import (
	"reflect"
	"strings"

	"PRelay/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Options customises Decode.
type Options struct {
	// WeaklyTypedInput allows "123" -> int, "true" -> bool and similar.
	WeaklyTypedInput bool
	// TagName is the struct tag read for field names, default "json".
	TagName string
}

func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
		TagName:          "json",
	}
}

// Decode decodes a loosely typed map (query parameters, headers, generic
// JSON objects) into a new T.
func Decode[T any](in any, opts ...Options) (*T, error) {
	if in == nil {
		return nil, errs.New("input is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
		if cfg.TagName == "" {
			cfg.TagName = "json"
		}
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          cfg.TagName,
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			trimStringHook(),
			floatToIntHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "new decoder")
	}
	if err := dec.Decode(in); err != nil {
		return nil, errs.WrapMsg(err, "decode struct")
	}
	return &out, nil
}

// trimStringHook strips surrounding whitespace from string values.
func trimStringHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String {
			return data, nil
		}
		return strings.TrimSpace(data.(string)), nil
	}
}

// floatToIntHook converts float64 (the JSON number type) to integer kinds.
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}
