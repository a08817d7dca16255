package main

import "github.com/systemication/go-fvde/cmd"

func main() {
	cmd.Execute()
}
