// The main package for the novel-harvester executable.
package main

import (
	"github.com/JakeFAU/novel-harvester/cmd"
)

func main() {
	cmd.Execute()
}
