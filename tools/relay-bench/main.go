package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tendermint/tendermint/libs/log"
)

func main() {
	var (
		targets     = flag.String("targets", "127.0.0.1:26657", "comma-delimited rpc host:port targets")
		duration    = flag.Int("T", 10, "exit after the specified amount of time in seconds")
		rate        = flag.Int("r", 100, "rules submitted per second per connection")
		connections = flag.Int("c", 1, "connections per target")
		subjects    = flag.Int("s", 100, "distinct subjects and resources in generated rules")
		verbose     = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logger := log.NewNopLogger()
	if *verbose {
		logger = log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	}

	transacters := []*transacter{}
	for _, target := range strings.Split(*targets, ",") {
		t := newTransacter(strings.TrimSpace(target), *connections, *rate, *subjects)
		t.SetLogger(logger)
		if err := t.Start(); err != nil {
			fmt.Printf("failed to start against %s: %v\n", target, err)
			os.Exit(1)
		}
		transacters = append(transacters, t)
	}

	time.Sleep(time.Duration(*duration) * time.Second)

	total := int64(0)
	for _, t := range transacters {
		t.Stop()
		snap := t.sent.Snapshot()
		total += snap.Count()
		fmt.Printf("%s: %d rules sent, %.1f/s over the last minute\n",
			t.Target, snap.Count(), snap.Rate1())
	}
	fmt.Printf("total: %d rules in %ds (%.1f/s)\n",
		total, *duration, float64(total)/float64(*duration))
}
