package main

import "github.com/sevenDatabase/controltower/cmd"

func main() {
	cmd.Execute()
}
