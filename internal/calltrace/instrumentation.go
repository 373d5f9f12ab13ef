package calltrace

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/NickTikhonov/shuo/internal/calltrace"

var logger = otelslog.NewLogger(scopeName)
