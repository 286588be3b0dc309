package main

import "github.com/openmobilesign/linkrelay/internal/cli"

func main() {
	cli.Execute()
}
