package main

import "github.com/agentic-research/markov/cmd"

func main() {
	cmd.Execute()
}
