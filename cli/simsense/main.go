// Package main is the simsense CLI command itself.
package main

import (
	"log"
	"os"

	"github.com/simbotics/simsense/cli"
)

func main() {
	if err := cli.NewApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
