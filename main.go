// ./main.go
package main

import (
	"github.com/formpilot/formpilot-cli/cmd"
)

func main() {
	cmd.Execute()
}
