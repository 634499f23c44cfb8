package config

import "errors"

// ErrInvalidConfig indicates the configuration is syntactically or
// semantically invalid (bad YAML, bad env value, out-of-range option).
// Callers should use errors.Is() to check for it.
var ErrInvalidConfig = errors.New("config: invalid configuration")
