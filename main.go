package main

import "github.com/xiaot623/paybridge/internal/cli"

func main() {
	cli.Execute()
}
