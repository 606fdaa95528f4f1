package firewall

import (
	"log/slog"
)

// RuleError records one failed append.
type RuleError struct {
	Family Family
	Rule   ChainRule
	Err    error
}

// RuleResult summarizes one EnsureRules call.
type RuleResult struct {
	Appended []ChainRule
	Present  int
	Failed   []RuleError
	// QueryFailures counts families whose chain listing failed and was
	// treated as empty.
	QueryFailures int
}

// OK reports whether every listing and append succeeded.
func (r RuleResult) OK() bool {
	return r.QueryFailures == 0 && len(r.Failed) == 0
}

// RuleEnsurer makes sure every named set is referenced by a source and a
// destination drop rule in its family's forwarding chain. It only appends;
// existing rules, duplicates included, are never removed or reordered.
type RuleEnsurer struct {
	gw     RuleGateway
	logger *slog.Logger
}

// NewRuleEnsurer returns a RuleEnsurer driving the given gateway.
func NewRuleEnsurer(gw RuleGateway, logger *slog.Logger) *RuleEnsurer {
	return &RuleEnsurer{gw: gw, logger: logger.With("component", "firewall")}
}

// EnsureRules appends every missing required rule. The chain of each family
// is listed once; rules appended during the call are added to that listing
// so no rule is appended twice.
func (e *RuleEnsurer) EnsureRules() RuleResult {
	var res RuleResult
	for _, fam := range Families {
		listing, err := e.gw.ListRules(fam)
		if err != nil {
			e.logger.Warn("listing chain rules failed, treating as empty",
				"family", fam,
				"error", err,
			)
			res.QueryFailures++
			listing = nil
		}

		for _, scope := range Scopes {
			set := NamedSet{Family: fam, Scope: scope}
			for _, dir := range Directions {
				want := DropRule(set, dir)
				if hasRule(listing, want) {
					res.Present++
					continue
				}
				if err := e.gw.AppendRule(fam, want); err != nil {
					e.logger.Error("appending rule failed",
						"family", fam,
						"set", want.Set,
						"direction", dir,
						"error", err,
					)
					res.Failed = append(res.Failed, RuleError{Family: fam, Rule: want, Err: err})
					continue
				}
				e.logger.Info("rule appended", "family", fam, "rule", want.String())
				listing = append(listing, want)
				res.Appended = append(res.Appended, want)
			}
		}
	}
	return res
}

func hasRule(listing []ChainRule, want ChainRule) bool {
	for _, r := range listing {
		if r.Satisfies(want) {
			return true
		}
	}
	return false
}
