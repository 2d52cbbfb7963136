// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Decoding of loosely typed configuration maps into typed structs.

package control

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// DecodeConfig decodes raw into out, which must be a pointer to a struct.
// Durations accept Go duration strings, numbers accept their string forms,
// and unknown keys are an error.
func DecodeConfig(raw map[string]any, out any) error {
	if v := reflect.ValueOf(out); v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("decode config: target must be a non-nil pointer, got %T", out)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("error decoding config: %w", err)
	}
	return nil
}
