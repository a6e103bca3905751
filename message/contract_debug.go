//go:build debug

package message

import "fmt"

// assertContract panics on envelope lifecycle misuse (debug only). Release
// builds keep the checked accessors' error returns as the only guard.
func assertContract(ok bool, detail string) {
	if !ok {
		panic(fmt.Sprintf("missive: contract violation: %s", detail))
	}
}
