package main

import "github.com/ihavespoons/mci/cmd"

func main() {
	cmd.Execute()
}
