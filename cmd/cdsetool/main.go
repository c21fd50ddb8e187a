// Command cdsetool is the CDSE catalogue search and download CLI.
package main

import (
	"fmt"
	"os"

	"github.com/cdsetool/cdsetool-go/cmd/cdsetool/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "there was an error: %v\n", err)
		os.Exit(1)
	}
}
