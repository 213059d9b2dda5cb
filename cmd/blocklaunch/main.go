package main

import "blocklaunch/internal/cli"

func main() {
	cli.Execute()
}
