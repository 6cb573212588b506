package main

import "contenthub/cmd"

func main() {
	cmd.Execute()
}
