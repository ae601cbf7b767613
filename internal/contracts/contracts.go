package contracts

import "github.com/kingrea/agent-smeder/internal/artifact"

// Contract describes the minimum shape of an artifact kind: front-matter
// keys that must be set and Markdown sections that must be present.
type Contract struct {
	Kind     artifact.Kind
	Keys     []string
	Sections []string
}

var kindContracts = map[artifact.Kind]Contract{
	artifact.KindPrompt: {
		Kind: artifact.KindPrompt,
		Keys: []string{"agent", "intent", "charter_ref"},
	},
	artifact.KindContract: {
		Kind: artifact.KindContract,
		Sections: []string{
			"Input",
			"Output",
			"Foutafhandeling",
			"Herkomstverantwoording",
		},
	},
}

// ContractForKind returns the contract for the given kind, if it exists.
func ContractForKind(kind artifact.Kind) (Contract, bool) {
	contract, ok := kindContracts[kind]
	return contract, ok
}
