// The main package for the harvester executable.
package main

import (
	"github.com/alp82/goodwatch-monorepo-sub001/cmd"
)

func main() {
	cmd.Execute()
}
