package main

import "github.com/Covenant-Gate/Covenantgate/cmd/covenant-gate/cmd"

func main() {
	cmd.Execute()
}
