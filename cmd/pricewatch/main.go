package main

import (
	"price-target-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
