package main

import "github.com/KaramelBytes/moodfolio/cmd"

func main() {
	cmd.Execute()
}
