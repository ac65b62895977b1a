package main

import "github.com/dmitrijs2005/kycflow/cmd/kycctl/cmd"

func main() {
	cmd.Execute()
}
