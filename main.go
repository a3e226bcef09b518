package main

import "github.com/GulDilin/image-deduplication-storage/internal/cli"

func main() {
	cli.Execute()
}
