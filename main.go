package main

import "github.com/joshdurbin/strava-wrapped/internal/cmd"

func main() {
	cmd.Execute()
}
