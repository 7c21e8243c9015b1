package main

import "github.com/JakeFAU/notecrawler/cmd"

func main() {
	cmd.Execute()
}
