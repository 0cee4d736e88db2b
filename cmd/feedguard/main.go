package main

import (
	"context"
	"fmt"
	"os"

	// Import feed types to register them
	_ "github.com/StrathCole/feedguard/pkg/feeds/chainlink"
	_ "github.com/StrathCole/feedguard/pkg/feeds/pricesrv"
	_ "github.com/StrathCole/feedguard/pkg/feeds/static"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
