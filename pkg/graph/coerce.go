package graph

import (
	"fmt"
	"reflect"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// coercers maps the names accepted in context_types to the Go type values
// are converted to.
var coercers = map[string]reflect.Type{
	"string":   reflect.TypeOf(""),
	"int":      reflect.TypeOf(int64(0)),
	"float":    reflect.TypeOf(float64(0)),
	"bool":     reflect.TypeOf(false),
	"duration": reflect.TypeOf(time.Duration(0)),
	"strings":  reflect.TypeOf([]string(nil)),
	"ints":     reflect.TypeOf([]int64(nil)),
}

// ContextTypes returns a copy of the machine's coercion map.
func (m *Machine) ContextTypes() map[string]string {
	out := make(map[string]string, len(m.contextTypes))
	for k, v := range m.contextTypes {
		out[k] = v
	}
	return out
}

// Coerce converts value to the type configured for key. Keys without a
// configured type are returned unchanged.
func (m *Machine) Coerce(key string, value any) (any, error) {
	typ, ok := m.contextTypes[key]
	if !ok || value == nil {
		return value, nil
	}
	target := reflect.New(coercers[typ])
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           target.Interface(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(value); err != nil {
		return nil, fmt.Errorf("cannot coerce '%s' to %s: %w", key, typ, err)
	}
	return target.Elem().Interface(), nil
}

// CoerceContext applies Coerce to every typed key present in ec's memory.
// Payloads decoded from JSON carry float64 numbers and string durations;
// this restores the types actions expect.
func (m *Machine) CoerceContext(ec *domain.Context) error {
	for key := range m.contextTypes {
		v, ok := ec.Get(key)
		if !ok {
			continue
		}
		cv, err := m.Coerce(key, v)
		if err != nil {
			return err
		}
		ec.Set(key, cv)
	}
	return nil
}
