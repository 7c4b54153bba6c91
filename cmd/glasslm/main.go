package main

import "github.com/raaihank/glasslm/internal/cli"

func main() {
	cli.Execute()
}
