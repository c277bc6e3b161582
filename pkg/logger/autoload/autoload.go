// Package autoload initializes the global zerolog logger from the LOG_*
// environment on import. Blank-import it from main.
package autoload

import (
	configx "github.com/CallejaJ/solana-ai/pkg/config"
	logx "github.com/CallejaJ/solana-ai/pkg/logger"
)

func init() {
	cfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*cfg)
}
