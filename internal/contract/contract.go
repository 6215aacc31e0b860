// Package contract freezes the schema of the running pipeline: the state set,
// the invariant and postcondition registries, and the decision record shape,
// all bound together by a 16-hex contract hash. At boot the validator rebuilds
// the contract from live code and compares it against the committed one; any
// fatal divergence aborts the process so a deploy can never silently change
// the audited surface.
package contract

import (
	"sort"
	"time"

	"reviewgate/internal/canonical"
	"reviewgate/internal/decision"
	"reviewgate/internal/fsm"
	"reviewgate/internal/invariants"
	"reviewgate/internal/postconditions"
)

// ActiveVersion is bumped whenever the committed schema literals change.
const ActiveVersion = "1.0.0"

// FSMSchema freezes the state set.
type FSMSchema struct {
	States         []string `json:"states"`
	TerminalStates []string `json:"terminal_states"`
	StateCount     int      `json:"state_count"`
}

// RegistrySchema freezes one checker registry (invariants or postconditions).
type RegistrySchema struct {
	IDs         []string          `json:"ids"`
	Count       int               `json:"count"`
	SeverityMap map[string]string `json:"severity_map"`
}

// Contract is the frozen execution schema plus its hash.
type Contract struct {
	Version             string         `json:"version"`
	FSMSchema           FSMSchema      `json:"fsm_schema"`
	InvariantSchema     RegistrySchema `json:"invariant_schema"`
	PostconditionSchema RegistrySchema `json:"postcondition_schema"`
	DecisionSchemaHash  string         `json:"decision_schema_hash"`
	ContractHash        string         `json:"contract_hash"`
	CreatedAt           time.Time      `json:"created_at"`
	Immutable           bool           `json:"immutable"`
}

// Build introspects the live registries and derives the contract for version.
func Build(version string) Contract {
	states := sortedStrings(fsm.AllStates())
	terminal := sortedStrings(fsm.TerminalStates())

	invIDs := make([]string, 0, len(invariants.IDs()))
	for _, id := range invariants.IDs() {
		invIDs = append(invIDs, string(id))
	}
	sort.Strings(invIDs)

	postIDs := make([]string, 0, len(postconditions.IDs()))
	for _, id := range postconditions.IDs() {
		postIDs = append(postIDs, string(id))
	}
	sort.Strings(postIDs)

	c := Contract{
		Version: version,
		FSMSchema: FSMSchema{
			States:         states,
			TerminalStates: terminal,
			StateCount:     len(states),
		},
		InvariantSchema: RegistrySchema{
			IDs:         invIDs,
			Count:       len(invIDs),
			SeverityMap: invariants.SeverityMap(),
		},
		PostconditionSchema: RegistrySchema{
			IDs:         postIDs,
			Count:       len(postIDs),
			SeverityMap: postconditions.SeverityMap(),
		},
		DecisionSchemaHash: decision.SchemaHash(),
		CreatedAt:          time.Now().UTC(),
		Immutable:          true,
	}
	c.ContractHash = Hash(c)
	return c
}

// Hash derives the 16-hex contract hash. It is a pure function of the four
// sub-schemas plus the version; CreatedAt and the hash field itself do not
// participate.
func Hash(c Contract) string {
	payload := map[string]any{
		"version": c.Version,
		"fsm_schema": map[string]any{
			"states":          c.FSMSchema.States,
			"terminal_states": c.FSMSchema.TerminalStates,
			"state_count":     c.FSMSchema.StateCount,
		},
		"invariant_schema":     registryPayload(c.InvariantSchema),
		"postcondition_schema": registryPayload(c.PostconditionSchema),
		"decision_schema_hash": c.DecisionSchemaHash,
	}
	h, err := canonical.HashHex(payload)
	if err != nil {
		// The payload is built from maps, slices, strings, and ints only.
		panic(err)
	}
	return canonical.Truncate16(h)
}

func registryPayload(r RegistrySchema) map[string]any {
	return map[string]any{
		"ids":          r.IDs,
		"count":        r.Count,
		"severity_map": r.SeverityMap,
	}
}

func sortedStrings(states []fsm.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	sort.Strings(out)
	return out
}
