package main

import "github.com/rollcall-io/rollcall/cmd"

func main() {
	cmd.Execute()
}
