package main

import "ledgerflow/internal/cli"

func main() {
	cli.Execute()
}
