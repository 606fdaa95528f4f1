package firewall

import (
	"github.com/kballard/go-shellquote"
)

// ParseIptablesRule parses one line of `iptables -S <chain>` output into a
// ChainRule. It returns false for lines that are not appended rules (chain
// policies such as "-P FORWARD ACCEPT" or "-N" declarations) and for rules
// that do not match a named set. Matchers other than the set match and the
// jump target are kept verbatim in Extra.
func ParseIptablesRule(line string) (ChainRule, bool) {
	tokens, err := shellquote.Split(line)
	if err != nil || len(tokens) < 2 || tokens[0] != "-A" {
		return ChainRule{}, false
	}

	var (
		rule    ChainRule
		haveSet bool
		negate  bool
	)
	for i := 2; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "!":
			negate = true
			continue
		case tok == "-m" && i+1 < len(tokens) && tokens[i+1] == "set":
			i++
		case tok == "--match-set" && i+2 < len(tokens):
			if haveSet {
				// A second set match narrows the rule.
				rule.Extra = append(rule.Extra, tok, tokens[i+1], tokens[i+2])
			} else {
				rule.Set = tokens[i+1]
				rule.Direction = Direction(tokens[i+2])
				rule.Negated = negate
				haveSet = true
			}
			i += 2
		case (tok == "-j" || tok == "--jump") && i+1 < len(tokens):
			if rule.Verdict == "" {
				rule.Verdict = tokens[i+1]
			} else {
				rule.Extra = append(rule.Extra, tok, tokens[i+1])
			}
			i++
		default:
			if negate {
				rule.Extra = append(rule.Extra, "!")
			}
			rule.Extra = append(rule.Extra, tok)
		}
		negate = false
	}
	if !haveSet {
		return ChainRule{}, false
	}
	if rule.Direction != DirSource && rule.Direction != DirDestination {
		// Multi-dimension matches such as "src,dst" are not a plain direction.
		rule.Extra = append(rule.Extra, "--match-set-dir", string(rule.Direction))
	}
	return rule, true
}

// Spec renders the rule as iptables arguments, excluding the append verb and
// chain name.
func (r ChainRule) Spec() []string {
	spec := []string{"-m", "set"}
	if r.Negated {
		spec = append(spec, "!")
	}
	spec = append(spec, "--match-set", r.Set, string(r.Direction))
	spec = append(spec, r.Extra...)
	return append(spec, "-j", r.Verdict)
}
