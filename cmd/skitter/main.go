package main

import "github.com/skitter-run/skitter/cmd/skitter/cmd"

func main() {
	cmd.Execute()
}
