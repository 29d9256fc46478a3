package main

import (
	"github.com/softlock-games/tandem/internal/cli"
)

func main() {
	cli.Execute()
}
