package main

import "github.com/couchcryptid/seismic-locator/internal/cli"

func main() {
	cli.Execute()
}
