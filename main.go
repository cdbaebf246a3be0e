package main

import "github.com/brk3/habitd/cmd"

func main() {
	cmd.Execute()
}
