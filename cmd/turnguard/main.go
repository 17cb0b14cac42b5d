package main

import "github.com/turnguard/turnguard/internal/cli"

func main() {
	cli.Execute()
}
