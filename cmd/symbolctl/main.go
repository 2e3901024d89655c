// Command symbolctl inspects symbol maps and resolves stack traces offline,
// using the same store and deobfuscator as the server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
