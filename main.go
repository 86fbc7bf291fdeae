// Package main is couchview's entry point: it hands off to the cli package's
// root command and translates a failed command into a non-zero exit status,
// the same pattern the teacher's main.go uses.
package main

import (
	"log"
	"os"

	"github.com/evalgo-org/couchview/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
