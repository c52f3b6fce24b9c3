package main

import "github.com/ramhaidar/kilocode/cli"

func main() {
	cli.Execute()
}
