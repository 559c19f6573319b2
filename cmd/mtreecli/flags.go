package main

import "flag"

// flagSet wraps flag.FlagSet with ContinueOnError behavior so the caller
// controls error handling instead of the flag package exiting the process.
type flagSet struct {
	*flag.FlagSet
}

func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}
