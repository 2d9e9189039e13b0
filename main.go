package main

import "github.com/tdhoang/reportfetch/cmd"

func main() {
	cmd.Execute()
}
