package stack

import (
	"fmt"
	"regexp"
	"sort"
)

// DefaultRegion is where the guardrail stacks deploy
const DefaultRegion = "us-east-1"

var accountPattern = regexp.MustCompile(`^[0-9]{12}$`)

// Target is the account and region a stack deploys to. An empty account
// means the deploying credentials decide.
type Target struct {
	Account string
	Region  string
}

// DefaultTarget deploys to us-east-1 in the caller's account
func DefaultTarget() Target {
	return Target{Region: DefaultRegion}
}

// Validate checks the target
func (t Target) Validate() error {
	if t.Region == "" {
		return fmt.Errorf("target region is required")
	}
	if t.Account != "" && !accountPattern.MatchString(t.Account) {
		return fmt.Errorf("target account %q is not a 12 digit account id", t.Account)
	}
	return nil
}

// Environment renders the target as aws://account/region
func (t Target) Environment() string {
	account := t.Account
	if account == "" {
		account = "unknown-account"
	}
	return "aws://" + account + "/" + t.Region
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}
