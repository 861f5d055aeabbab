package main

import "github.com/rhubarbgroup/redis-cache-sub002/cmd"

func main() {
	cmd.Execute()
}
