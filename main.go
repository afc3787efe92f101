package main

import "github.com/paseohq/paseo/cmd"

func main() {
	cmd.Execute()
}
