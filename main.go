package main

import "github.com/nicoburkart/agent-converto/cmd"

func main() {
	cmd.Execute()
}
