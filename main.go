package main

import "github.com/dyike/stockbot/internal/cli"

func main() {
	cli.Run()
}
