package steps

import (
	"context"
	"fmt"

	"github.com/uap-go/uap/internal/engine"
)

func init() {
	engine.RegisterUncallable(fixS2CKind{})
}

// fixS2CKind is the legacy "s2c" step: its original contract is
// setup_runs(complete_input_run_info, connection_info) plus a separate
// execute(run_id, run_info), predating the current declare_runs(cc)
// API. RegisterUncallable keeps it discoverable ("steps --show fix_s2c"
// still describes it) while refusing engineconfig.Load's
// engine.MustLookup, so it can never be instantiated into a pipeline
// (spec.md §9 Open Question 3). DeclareRuns still returns
// ErrLegacyStepUnsupported as a second line of defense for any caller
// that resolves it via the permissive engine.Lookup instead.
type fixS2CKind struct{}

func (fixS2CKind) Name() string { return "fix_s2c" }

func (fixS2CKind) IsSource() bool { return false }

func (fixS2CKind) RequiredTools() []string {
	return []string{"s2c", "samtools", "pigz", "cat4m"}
}

func (fixS2CKind) DeclareConnections() *engine.ConnectionSet {
	cs := engine.NewConnectionSet()
	_ = cs.Add("in/alignments", false, "", "")
	_ = cs.Add("out/alignments", false, "", "")
	_ = cs.Add("out/log", false, "", "")
	return cs
}

func (fixS2CKind) DeclareOptions() []engine.OptionSpec { return nil }

func (fixS2CKind) DeclareRuns(ctx context.Context, inst *engine.Instance) ([]*engine.Run, error) {
	return nil, fmt.Errorf("%w: step kind %q (instance %q)", engine.ErrLegacyStepUnsupported, "fix_s2c", inst.Name)
}
