package main

import "github.com/encodeous/srmesh/cmd"

func main() {
	cmd.Execute()
}
