package main

import "catalogscraper/cmd/scraper/commands"

func main() {
	commands.Execute()
}
