package main

import "github.com/marcus/taskmaster/cmd/taskmaster/commands"

func main() {
	commands.Execute()
}
