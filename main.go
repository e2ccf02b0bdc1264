package main

import "github.com/agentic-research/launchpad/cmd"

func main() {
	cmd.Execute()
}
