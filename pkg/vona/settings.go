package vona

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings maps a provider's free-form settings block onto a typed
// config struct. Numbers arriving as strings are converted.
func DecodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("build settings decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}
