package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags address a running supervisor.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

type ServeFlags struct {
	ConfigPath  string
	Listen      string
	Registry    string
	ServicesDir string
}

type AllocateFlags struct {
	Service   string
	Preferred uint16
}
