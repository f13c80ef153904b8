//go:build !dev

package config

// Release builds take configuration from the real environment only.
func loadDotEnv() error { return nil }
