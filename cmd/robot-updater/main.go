package main

import "github.com/oshokin/robot-updater/cmd/robot-updater/cmd"

func main() {
	cmd.Execute()
}
