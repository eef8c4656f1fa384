package main

import "github.com/ppiankov/querywatch/internal/cli"

func main() {
	cli.Execute()
}
