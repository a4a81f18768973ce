package main

import "github.com/arosyihuddin/BotNexa/cmd"

func main() {
	cmd.Execute()
}
