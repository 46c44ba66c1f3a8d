package main

import "github.com/doorstephq/doorstep-cloud/internal/cli"

func main() {
	cli.Execute()
}
