// Command seckillctl operates a seckill-cache deployment: it preloads
// voucher stock, submits purchases, mints ids and inspects cache entries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
