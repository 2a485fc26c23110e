// policy-check validates a traffic classification policy file and prints a
// summary of the compiled rules. Exit status is non-zero when the policy
// would be rejected at daemon startup.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/policy"
)

func main() {
	policyPath := flag.String("policy", "config/tc_policy.yaml", "Path to the policy YAML file")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	logger.SetLevel(logger.WARN)
	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}

	pol, err := policy.Load(*policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy-check: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d rules OK\n", *policyPath, len(pol.Rules))
	for i := range pol.Rules {
		rule := &pol.Rules[i]
		fmt.Printf("  %s: match_type=%s attrs=%d actions=%d",
			rule.Name, rule.Conditions.MatchType, len(rule.Conditions.Attrs), len(rule.Actions))
		if rule.Comment != "" {
			fmt.Printf("  # %s", rule.Comment)
		}
		fmt.Println()
	}
}
