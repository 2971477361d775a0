package main

import "github.com/papapumpkin/visitsync/cmd"

func main() {
	cmd.Execute()
}
