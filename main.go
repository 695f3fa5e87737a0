// Idiomatic entrypoint for the cobra CLI that delegates to the root command
// in cmd/kerneld/root.go.
package main

import (
	"github.com/sis-kernel/core/cmd/kerneld"
)

func main() {
	kerneld.Execute()
}
