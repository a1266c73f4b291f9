// Command otelsvc runs the instrumented demo HTTP service.
package main

import (
	"context"
	"os"

	"github.com/jonwraymond/otelsvc/observe"
)

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// The observer may never have been built, so failures get their own logger.
		observe.NewLogger("error").Error(ctx, "otelsvc failed", observe.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
}
