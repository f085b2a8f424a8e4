package main

import "boundq/cmd"

func main() {
	cmd.Execute()
}
