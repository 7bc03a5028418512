package devlogger

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/auditmos/devlogger/logging"
)

// Interpolate replaces each {key} placeholder in message with the matching
// scalar field. Placeholders for missing or non-scalar fields are left in
// place, and replaced text is never expanded again.
func Interpolate(message string, fields logging.Fields) string {
	if len(fields) == 0 || !strings.Contains(message, "{") {
		return message
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// Longest placeholder first when two start at the same offset.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		if s, ok := scalarString(fields[k]); ok {
			pairs = append(pairs, "{"+k+"}", s)
		}
	}
	if len(pairs) == 0 {
		return message
	}
	return strings.NewReplacer(pairs...).Replace(message)
}

func scalarString(v interface{}) (string, bool) {
	if v == nil {
		return "", false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return "", false
	}

	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return fmt.Sprint(val), true
	case fmt.Stringer:
		return val.String(), true
	case error:
		return val.Error(), true
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String, reflect.Bool:
		return fmt.Sprint(v), true
	}
	return "", false
}
