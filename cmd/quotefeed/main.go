// Command quotefeed ingests market quotes into a document store.
package main

import (
	"os"

	"quotefeed/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
