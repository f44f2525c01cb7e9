package config

import (
	"io"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

const masked = "******"

var secretKeys = map[string]bool{
	"sasl_pass": true,
	"password":  true,
	"dsn":       true,
}

// Dump writes the effective configuration as YAML in the same shape Load
// reads. Durations render as "30s" and secrets are masked.
func Dump(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toMap(reflect.ValueOf(cfg))); err != nil {
		return err
	}
	return enc.Close()
}

var durationType = reflect.TypeOf(time.Duration(0))

func toMap(v reflect.Value) map[string]any {
	out := map[string]any{}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("koanf")
		if key == "" {
			continue
		}
		fv := v.Field(i)
		switch {
		case f.Type == durationType:
			out[key] = time.Duration(fv.Int()).String()
		case fv.Kind() == reflect.Struct:
			out[key] = toMap(fv)
		case secretKeys[key] && !fv.IsZero():
			out[key] = masked
		default:
			out[key] = fv.Interface()
		}
	}
	return out
}
