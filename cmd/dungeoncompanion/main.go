package main

import "github.com/artemshal/DungeonCompanion/cmd/dungeoncompanion/commands"

func main() {
	commands.Execute()
}
