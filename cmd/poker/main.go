package main

import "github.com/mcoot/planning-poker/internal/cli"

func main() {
	cli.Execute()
}
