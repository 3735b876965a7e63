package main

import "github.com/forPelevin/autodub/internal/cli"

func main() {
	cli.Main()
}
