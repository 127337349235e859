package main

import "caixa/internal/cli"

func main() {
	cli.Execute()
}
