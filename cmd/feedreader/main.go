// Command feedreader はフィードリーダーのAPIサーバーとワーカーを起動する。
//
// サブコマンド: serve（既定）, worker, refresh, migrate, healthcheck
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/feedreader/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
