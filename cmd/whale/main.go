// Command whale is an autonomous coding agent runtime: it drives
// tool-calling conversations against Anthropic models, alone or as a team
// of coordinated workers.
package main

func main() {
	Execute()
}
