package main

import "github.com/leighmacdonald/mcrcon/cmd"

func main() {
	cmd.Execute()
}
