package main

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/NickTikhonov/shuo/cmd/shuo"

var logger = otelslog.NewLogger(scopeName)
