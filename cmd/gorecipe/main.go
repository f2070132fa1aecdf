package main

import "github.com/dbsmedya/gorecipe/cmd/gorecipe/cmd"

func main() {
	cmd.Execute()
}
