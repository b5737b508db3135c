package main

import "smoothcal/internal/cli"

func main() {
	cli.Execute()
}
