package main

import (
	"os"

	"github.com/btighe428/cityping-sub002/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
