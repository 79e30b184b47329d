package main

import "os"

// Exit codes, per spec.md §6's exit code table.
const (
	ExitSuccess      = 0 // all selected recipes succeeded or hit cache
	ExitGeneral      = 1 // project load, config, or unexpected internal error
	ExitRecipeFailed = 2 // one or more recipes failed
	ExitValidation   = 3 // selector, flag, or project validation error
	ExitUpdate       = 4 // self-update subsystem error (out of scope, reserved)
)

func exitWithCode(code int) {
	os.Exit(code)
}
