// Copyright (c) 2018, Postgres Professional

package main

import (
	"postgrespro.ru/logicalrepl/cmd/logicalrepld/cmd"
)

func main() {
	cmd.Execute()
}
