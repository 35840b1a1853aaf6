package main

import (
	"os"

	"clashkit/cli"
)

func main() {
	os.Exit(cli.Execute())
}
