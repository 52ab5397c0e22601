// Command undotree inspects undo histories kept in a history database or a
// journal directory.
package main

import (
	"os"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
