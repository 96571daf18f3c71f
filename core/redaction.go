package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactSensitiveMap copies metadata with every credential-like value replaced by
// RedactedValue. Nested maps and slices are walked. Keys that identify a job or
// its services stay visible so logs remain traceable.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	case AuthData:
		return RedactedValue
	case *AuthData:
		return RedactedValue
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range []string{
		"password",
		"secret",
		"token",
		"authorization",
		"api_key",
		"apikey",
		"private_key",
		"public_key",
		"auth_data",
		"refresh",
		"credential",
	} {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "job_id",
		"export_service",
		"import_service",
		"data_vertical",
		"auth_state",
		"instance_id",
		"idempotency_key",
		"encryption_scheme",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}
