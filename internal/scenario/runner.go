package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/querywatch/internal/classify"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/policy"
)

// Run checks every case in s against p and dl, or against the scenario's
// own policy and denylist when it carries them.
func Run(s *Scenario, p *policy.Policy, dl *denylist.Denylist) (*RunResult, error) {
	if s.Policy != nil {
		override, err := policy.New(*s.Policy)
		if err != nil {
			return nil, fmt.Errorf("scenario %q policy: %w", s.Name, err)
		}
		p = override
	}
	if s.Denylist != nil {
		dl = denylist.New(*s.Denylist)
	}

	result := &RunResult{Name: s.Name, Total: len(s.Cases)}
	for i, c := range s.Cases {
		cr := evaluate(c, p, dl, classify.Options{Dialect: s.Dialect})
		cr.Index = i + 1
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}
	return result, nil
}

func evaluate(c Case, p *policy.Policy, dl *denylist.Denylist, opts classify.Options) CaseResult {
	d := policy.Authorize(classify.ClassifyWith(c.SQL, opts), p, dl)
	cr := CaseResult{
		SQL:      c.SQL,
		Expected: strings.ToLower(c.Expect),
		Actual:   verdict(d),
		Class:    string(d.Class()),
		PolicyID: d.PolicyID(),
		Reason:   d.Reason(),
		Executed: d.Statement(),
	}
	cr.Mismatch = mismatch(c, cr, d.Capped())
	cr.Passed = cr.Mismatch == ""
	return cr
}

func verdict(d policy.Decision) string {
	if d.Allowed() {
		return "allow"
	}
	return "deny"
}

// mismatch names the first expectation c does not meet, or returns "".
func mismatch(c Case, cr CaseResult, capped bool) string {
	switch {
	case cr.Expected != cr.Actual:
		return fmt.Sprintf("expected %s, got %s", cr.Expected, cr.Actual)
	case c.Class != "" && !strings.EqualFold(c.Class, cr.Class):
		return fmt.Sprintf("expected class %s, got %s", c.Class, cr.Class)
	case c.PolicyID != "" && c.PolicyID != cr.PolicyID:
		return fmt.Sprintf("expected policy %s, got %s", c.PolicyID, cr.PolicyID)
	case c.Capped != nil && *c.Capped != capped:
		return fmt.Sprintf("expected capped=%v, got %v", *c.Capped, capped)
	case c.Reason != "" && !strings.Contains(strings.ToLower(cr.Reason), strings.ToLower(c.Reason)):
		return fmt.Sprintf("expected reason containing %q, got %q", c.Reason, cr.Reason)
	case c.Executed != "" && c.Executed != cr.Executed:
		return fmt.Sprintf("expected executed %q, got %q", c.Executed, cr.Executed)
	}
	return ""
}

// Load reads a scenario file. Unknown keys are an error.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	for i, c := range s.Cases {
		if e := strings.ToLower(c.Expect); e != "allow" && e != "deny" {
			return nil, fmt.Errorf("scenario %s case %d: expect must be allow or deny, got %q", path, i+1, c.Expect)
		}
	}
	return &s, nil
}

// LoadAndRun runs the scenario at path against the policy and denylist files.
func LoadAndRun(path, policyPath, denylistPath string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	p, err := policy.Load(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	dl, err := denylist.Load(denylistPath)
	if err != nil {
		return nil, fmt.Errorf("load denylist: %w", err)
	}

	result, err := Run(s, p, dl)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
