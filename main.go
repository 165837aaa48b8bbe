package main

import "github.com/brensch/jusosync/cmd"

func main() {
	cmd.Execute()
}
