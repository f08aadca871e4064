package main

import (
	"github.com/nano-cluster/nano-compose/cmd"
)

func main() {
	cmd.Execute()
}
