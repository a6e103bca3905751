//go:build !debug

package message

// assertContract panics on envelope lifecycle misuse (debug only).
func assertContract(ok bool, detail string) {}
