package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/model"
)

// Policy IDs recorded with every decision.
const (
	IDMalformed         = "gate.malformed"
	IDClassNotPermitted = "gate.class_not_permitted"
	IDMutationsDisabled = "gate.mutations_disabled"
	IDDenylist          = "denylist.block"
	IDRowCap            = "gate.row_cap"
	IDAllow             = "gate.allow"
)

// Deny reasons. These strings are part of the caller-visible contract.
const (
	ReasonMalformed         = "unparsable statement"
	ReasonClassNotPermitted = "operation class not permitted"
	ReasonMutationsDisabled = "mutations disabled by policy"
)

// Decision is the gate's verdict on one classified statement.
// Only Authorize can produce an allowing Decision; the zero value denies.
type Decision struct {
	allowed   bool
	class     model.OperationClass
	original  string
	statement string
	reason    string
	detail    string
	policyID  string
	capped    bool
	maxRows   int
	timeout   time.Duration
}

// Allowed reports whether the statement may be executed.
func (d Decision) Allowed() bool { return d.allowed }

// Statement is the bounded statement to execute. Empty when denied.
func (d Decision) Statement() string { return d.statement }

// Original is the statement text as classified.
func (d Decision) Original() string { return d.original }

// Capped reports whether the gate appended a row cap.
func (d Decision) Capped() bool { return d.capped }

func (d Decision) Class() model.OperationClass { return d.class }
func (d Decision) PolicyID() string            { return d.policyID }

// MaxRows is the executor's row ceiling for this statement.
func (d Decision) MaxRows() int { return d.maxRows }

// Timeout is the per-statement bound from the policy.
func (d Decision) Timeout() time.Duration { return d.timeout }

// Reason is the deny reason, or "" for an allowing decision.
func (d Decision) Reason() string {
	if d.allowed {
		return ""
	}
	if d.reason == "" {
		return "not authorized"
	}
	return d.reason
}

// Detail carries supporting context for a denial, such as the classifier's
// explanation of why a statement is malformed.
func (d Decision) Detail() string { return d.detail }

// Failure converts a denial into the failure surfaced to callers.
// Malformed statements report malformed_input, all other denials policy_denied.
func (d Decision) Failure() *model.Failure {
	if d.allowed {
		return nil
	}
	kind := model.KindPolicyDenied
	if d.policyID == IDMalformed {
		kind = model.KindMalformedInput
	}
	if d.detail != "" {
		return model.NewFailure(kind, "%s: %s", d.Reason(), d.detail)
	}
	return model.NewFailure(kind, "%s", d.Reason())
}

// Authorize decides whether stmt may run under p.
//
// Evaluation order (must not be changed, first match wins):
//  1. Malformed -> deny
//  2. Class not in allowed_operation_classes -> deny
//  3. Mutate/admin with allow_mutations false -> deny
//  4. Denylisted table or construct -> deny
//  5. Read without a top-level row limit -> allow with LIMIT max_rows appended
//  6. Otherwise allow unchanged
//
// A nil policy means the built-in default. A nil denylist skips step 4.
func Authorize(stmt model.ClassifiedStatement, p *Policy, dl *denylist.Denylist) Decision {
	if p == nil {
		p = Default()
	}
	d := Decision{
		class:    stmt.Class,
		original: stmt.Text(),
		maxRows:  p.maxRows,
		timeout:  p.timeout,
	}

	// Step 1: Malformed never reaches the database
	if stmt.Class == model.ClassMalformed {
		d.reason = ReasonMalformed
		d.detail = stmt.Reason
		d.policyID = IDMalformed
		return d
	}

	// Step 2: Deny by omission
	if !p.Allows(stmt.Class) {
		d.reason = ReasonClassNotPermitted
		d.detail = string(stmt.Class)
		d.policyID = IDClassNotPermitted
		return d
	}

	// Step 3: Mutation switch
	if stmt.Class.IsWrite() && !p.allowMutations {
		d.reason = ReasonMutationsDisabled
		d.policyID = IDMutationsDisabled
		return d
	}

	// Step 4: Denylist
	if dl != nil {
		if blocked, why := dl.IsBlocked(stmt.Text(), stmt.Tables); blocked {
			d.reason = fmt.Sprintf("denylisted: %s", why)
			d.policyID = IDDenylist
			return d
		}
	}

	d.allowed = true

	// Step 5: Bound unbounded reads
	if stmt.Class == model.ClassRead && !stmt.HasRowLimit {
		d.statement = WithRowCap(stmt, p.maxRows)
		d.capped = true
		d.policyID = IDRowCap
		return d
	}

	// Step 6: Allow unchanged
	d.statement = stmt.Text()
	d.policyID = IDAllow
	return d
}

// WithRowCap inserts " LIMIT n" at the statement's cap offset. A LIMIT ALL
// keeps its clause and has ALL replaced by n.
func WithRowCap(stmt model.ClassifiedStatement, n int) string {
	text := stmt.Text()
	if at := stmt.LimitAllAt; at > 0 && at+3 <= len(text) && strings.EqualFold(text[at:at+3], "ALL") {
		return text[:at] + strconv.Itoa(n) + text[at+3:]
	}
	at := stmt.CapAt
	if at <= 0 || at > len(text) {
		at = len(text)
	}
	return text[:at] + " LIMIT " + strconv.Itoa(n) + text[at:]
}
