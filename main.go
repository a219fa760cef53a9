// ./main.go
package main

import (
	"github.com/undefined996/page-agent/cmd"
)

// main is the entry point for the page-agent CLI application.
func main() {
	cmd.Execute()
}
