// Command gateway runs the multi-session messaging gateway.
package main

import (
	"os"

	"github.com/xiaot623/gogo/gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
