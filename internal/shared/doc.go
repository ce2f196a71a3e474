// Package shared holds helpers used by more than one package. The testutil
// subpackage provides a capturing slog handler and CSV fixtures for tests.
package shared
