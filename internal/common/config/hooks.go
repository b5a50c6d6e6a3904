package config

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// CustomHooks replaces viper's default decode hooks, so the defaults are re-added here.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		ConnectionStringHookFunc(),
	)),
}

// ConnectionStringHookFunc decodes a libpq style "key1=value1 key2=value2" string into a map[string]string.
// This allows maps such as postgres connection parameters to be supplied through a single environment variable.
func ConnectionStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}
		return ParseConnectionString(data.(string))
	}
}

func ParseConnectionString(s string) (map[string]string, error) {
	result := map[string]string{}
	for _, field := range strings.Fields(s) {
		key, value, found := strings.Cut(field, "=")
		if !found || key == "" {
			return nil, errors.Errorf("invalid connection parameter %q, expected key=value", field)
		}
		result[key] = value
	}
	return result, nil
}
