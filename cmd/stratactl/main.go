// stratactl is a maintenance CLI for poking records in a strata-managed
// store: fetch, write and delete single documents against the Redis, the
// DynamoDB or an in-process memory backend.
//
// Configuration comes from flags or environment variables with the STRATA_
// prefix (e.g. STRATA_REDIS_ADDR=localhost:6379), with .env and .env.local
// loaded first.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
