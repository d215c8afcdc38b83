package types

// redactedPlaceholder replaces secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

// SecretString prevents accidental logging or serialization of sensitive
// values such as API keys and connection strings. String() and MarshalJSON()
// return a redacted placeholder; Unmask() yields the plaintext where it is
// genuinely needed (Authorization headers, pool construction).
type SecretString string

// String returns the redacted placeholder. Invoked by fmt and slog whenever
// the value would otherwise be printed.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so config
// dumps and structured logs never carry the secret.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
