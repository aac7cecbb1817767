package main

import "github.com/Builder-Lawyers/church-provisioner/cmd"

func main() {
	cmd.Execute()
}
