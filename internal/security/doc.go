// Package security implements the validators that gate every tool
// call: path confinement, command deny-patterns, outbound URL checks,
// environment variable filtering, and per-caller rate limiting.
//
// The validators are independent of each other and of any transport.
// Each returns an error wrapping a package sentinel so callers can map
// failures to stable violation kinds with errors.Is.
//
// Defense layers addressed here:
//   - Path traversal (CWE-22): PathValidator
//   - Command injection (CWE-78): CommandValidator
//   - SSRF (CWE-918): URLValidator and SafeTransport
//   - Information exposure (CWE-200): IsSensitiveEnv
package security
