package utils

// Version is stamped at build time with -ldflags "-X clashkit/utils.Version=...".
var Version = "dev"
