package main

import "github.com/codedeck/codedeck/cmd"

func main() {
	cmd.Execute()
}
