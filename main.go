package main

import "KeyShift/cmd"

func main() {
	cmd.Execute()
}
