package main

import "github.com/rnwolfe/hooksched/cmd"

func main() {
	cmd.Execute()
}
