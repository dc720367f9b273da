package main

import (
	"fx-market-data/internal/cli"
)

func main() {
	cli.Execute()
}
