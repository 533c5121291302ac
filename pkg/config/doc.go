// Package config loads YAML test-plan files and turns them into plan
// compiler input. Defaults are applied here; validation happens in the
// compiler.
package config
