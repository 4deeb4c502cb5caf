package main

import (
	"stockwatch-backend/cmd/stockwatch/commands"
	"stockwatch-backend/lib/osutil"
)

func main() {
	commands.ExecuteContext(osutil.SignalContext())
}
