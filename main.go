package main

import "github.com/switchyard-ai/switchyard/internal/cli"

func main() {
	cli.Execute()
}
