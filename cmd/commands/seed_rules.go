package commands

import (
	"errors"
	"fmt"
	"io/ioutil"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/p2p"

	"aclrelay/acllog"
	"aclrelay/store"
	"aclrelay/types"
)

var (
	rulesFile string
	sampleSum int
)

func init() {
	SeedRulesCmd.Flags().StringVar(&rulesFile, "file", "", "JSON file with rules to seed")
	SeedRulesCmd.Flags().IntVar(&sampleSum, "sample-sum", 0, "number of generated sample rules")
}

// SeedRulesCmd preloads the local ACL store and relay log before first
// start. Seeded rules carry this node's origin, so they relay to peers like
// any locally submitted mutation.
var SeedRulesCmd = &cobra.Command{
	Use:     "seed-rules",
	Aliases: []string{"seed_rules"},
	Short:   "Seed the local ACL store with rules",
	RunE:    seedRules,
}

type seedRule struct {
	Subject    string `json:"subject"`
	Resource   string `json:"resource"`
	Permission string `json:"permission"`
}

func loadRules() ([]seedRule, error) {
	if rulesFile != "" {
		raw, err := ioutil.ReadFile(rulesFile)
		if err != nil {
			return nil, err
		}
		var rules []seedRule
		if err := jsoniter.Unmarshal(raw, &rules); err != nil {
			return nil, fmt.Errorf("bad rules file %s: %w", rulesFile, err)
		}
		return rules, nil
	}

	if sampleSum <= 0 {
		return nil, errors.New("need --file or a positive --sample-sum")
	}
	rules := make([]seedRule, 0, sampleSum)
	for i := 0; i < sampleSum; i++ {
		rules = append(rules, seedRule{
			Subject:    fmt.Sprintf("user%v", i+1),
			Resource:   fmt.Sprintf("resource%v", i+1),
			Permission: "READ",
		})
	}
	return rules, nil
}

func seedRules(cmd *cobra.Command, args []string) error {
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		return fmt.Errorf("node key required, run init first: %w", err)
	}

	rules, err := loadRules()
	if err != nil {
		return err
	}

	st, err := store.NewKVStore("aclstore", config.DBDir(), logger)
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := acllog.NewKVLog(types.NodeID(nodeKey.ID()), "acllog", config.DBDir(), logger)
	if err != nil {
		return err
	}

	for _, r := range rules {
		key := types.NewEntryKey(r.Subject, r.Resource)
		if err := key.ValidateBasic(); err != nil {
			return err
		}
		rec, err := l.Append(key, types.Permission(r.Permission))
		if err != nil {
			return err
		}
		if err := st.Put(rec.Entry()); err != nil {
			return err
		}
	}

	logger.Info("seeded rules", "count", len(rules))
	return nil
}
