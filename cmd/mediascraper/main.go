// The main package for the mediascraper executable.
package main

import (
	"github.com/ltphuoc/media-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
