package main

import "github.com/urbansense/sview-trainer/cmd"

func main() {
	cmd.Execute()
}
