package main

import (
	"os"

	"f0oster/permspy/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
