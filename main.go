package main

import (
	"soniq/cmd"
)

func main() {
	cmd.Execute()
}
