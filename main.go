package main

import "github.com/agentic-research/nixfs/cmd"

func main() {
	cmd.Execute()
}
