package configuration

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/benchforge/bmdriver/internal/bm/selector"
)

// DecodeOptions returns the viper options needed to decode a BmDriverConfig.
func DecodeOptions() []viper.DecoderConfigOption {
	return []viper.DecoderConfigOption{
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			EventSuccessorHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		)),
	}
}

// EventSuccessorHookFunc decodes successors written either as "<eventname>,<weighting>[,<delay>]"
// or as a map with the keys event, weight and delay. A weight may be a list of weightings that are multiplied.
func EventSuccessorHookFunc() mapstructure.DecodeHookFuncType {
	successorType := reflect.TypeOf(selector.EventSuccessor{})
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != successorType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return selector.ParseSuccessor(value)
		case map[string]interface{}:
			return successorFromMap(value)
		case map[interface{}]interface{}:
			converted := make(map[string]interface{}, len(value))
			for k, v := range value {
				converted[fmt.Sprint(k)] = v
			}
			return successorFromMap(converted)
		}
		return data, nil
	}
}

func successorFromMap(values map[string]interface{}) (selector.EventSuccessor, error) {
	successor := selector.EventSuccessor{Weight: 1}
	for key, value := range values {
		var err error
		switch strings.ToLower(key) {
		case "event", "eventname":
			successor.EventName = strings.TrimSpace(fmt.Sprint(value))
		case "weight", "weightings":
			successor.Weight, err = selector.ParseWeightings(weightings(value))
		case "delay":
			successor.Delay, err = selector.ParseDelay(fmt.Sprint(value))
		default:
			err = errors.Errorf("unknown key %q", key)
		}
		if err != nil {
			return selector.EventSuccessor{}, errors.WithMessagef(err, "invalid event successor %v", values)
		}
	}
	if successor.EventName == "" {
		return selector.EventSuccessor{}, errors.Errorf("invalid event successor %v: event is required", values)
	}
	return successor, nil
}

func weightings(value interface{}) string {
	list, ok := value.([]interface{})
	if !ok {
		return fmt.Sprint(value)
	}
	parts := make([]string, 0, len(list))
	for _, v := range list {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ",")
}
