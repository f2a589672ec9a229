package main

import (
	"os"

	"github.com/texttheater/viasock/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
