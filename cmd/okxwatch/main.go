package main

import "okxwatch/internal/cli"

func main() {
	cli.Execute()
}
