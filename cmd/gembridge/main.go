package main

import "github.com/gembridge/gembridge/internal/cli"

func main() {
	cli.Execute()
}
