package main

import (
	"github.com/BioHazard786/meshcall/cmd"
	"github.com/BioHazard786/meshcall/internal/logging"
)

func main() {
	logging.Init("")
	cmd.Execute()
}
