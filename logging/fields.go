package logging

import "strings"

const redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"password":              true,
	"password_confirmation": true,
	"_token":                true,
	"secret":                true,
	"token":                 true,
	"api_key":               true,
	"apikey":                true,
	"authorization":         true,
	"auth":                  true,
	"credential":            true,
	"private_key":           true,
	"privatekey":            true,
}

type Fields map[string]interface{}

func WithField(key string, value interface{}) Fields {
	return Fields{key: value}
}

func WithFields(f Fields) Fields {
	result := make(Fields, len(f))
	for k, v := range f {
		result[k] = v
	}
	return result
}

func WithError(err error) Fields {
	if err == nil {
		return Fields{}
	}
	return Fields{"error": err.Error()}
}

func (f Fields) Add(key string, value interface{}) Fields {
	f[key] = value
	return f
}

func (f Fields) Merge(other Fields) Fields {
	for k, v := range other {
		f[k] = v
	}
	return f
}

// Sanitize returns a copy with sensitive values replaced. Nested Fields and
// map[string]interface{} values are sanitized too, which covers decoded
// request input.
func (f Fields) Sanitize() Fields {
	if f == nil {
		return nil
	}
	result := make(Fields, len(f))
	for k, v := range f {
		if IsSensitiveKey(k) {
			result[k] = redacted
			continue
		}
		switch nested := v.(type) {
		case Fields:
			result[k] = nested.Sanitize()
		case map[string]interface{}:
			result[k] = map[string]interface{}(Fields(nested).Sanitize())
		default:
			result[k] = v
		}
	}
	return result
}

// IsSensitiveKey reports whether values stored under key must not be logged.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}
