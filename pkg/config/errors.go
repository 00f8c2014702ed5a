package config

import "errors"

var (
	// ErrConfigNotFound indicates the override file path was set but the
	// file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates the override file failed to parse.
	ErrInvalidYAML = errors.New("invalid YAML syntax")
)
