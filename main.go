package main

import "serialbridge/cmd"

func main() {
	cmd.Execute()
}
