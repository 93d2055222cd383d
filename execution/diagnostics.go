package execution

import (
	"fmt"
	"sync"
)

// Code identifies a diagnostic condition. The zero value means "no code".
type Code int

const (
	CodeNone Code = iota
	// CodeQueryInterrupted is raised when the session is killed while a scan
	// is in flight.
	CodeQueryInterrupted
	// CodeParallelExec is the synthetic condition raised when a parallel
	// stage fails without any worker leaving a specific diagnostic.
	CodeParallelExec
	// CodeTableDefChanged is raised by the storage layer when a table
	// definition changes under an open cursor. It takes priority over every
	// other condition when the stage's final code is computed.
	CodeTableDefChanged
	// CodeWorkerStartup is raised when a worker slot fails to start.
	CodeWorkerStartup
	// CodeStorage covers all other storage-layer failures.
	CodeStorage
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeQueryInterrupted:
		return "query interrupted"
	case CodeParallelExec:
		return "parallel execution error"
	case CodeTableDefChanged:
		return "table definition changed"
	case CodeWorkerStartup:
		return "worker startup failure"
	case CodeStorage:
		return "storage error"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

type Severity int8

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Condition is one entry in a diagnostics area.
type Condition struct {
	Code     Code
	Severity Severity
	Message  string
}

func (c Condition) Error() string {
	return fmt.Sprintf("%s: %s", c.Code, c.Message)
}

// Diagnostics is the ordered record of conditions attached to a session.
// Workers append to their own area; the coordinator merges worker areas in
// slot order after the join, so the first error in slot order wins.
type Diagnostics struct {
	mu    sync.Mutex
	conds []Condition
}

func (d *Diagnostics) AddError(code Code, format string, args ...any) {
	d.add(Condition{Code: code, Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

func (d *Diagnostics) AddWarning(code Code, format string, args ...any) {
	d.add(Condition{Code: code, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

// Add records a pre-built condition.
func (d *Diagnostics) Add(c Condition) { d.add(c) }

func (d *Diagnostics) add(c Condition) {
	d.mu.Lock()
	d.conds = append(d.conds, c)
	d.mu.Unlock()
}

// Conditions returns a copy of the recorded conditions in insertion order.
func (d *Diagnostics) Conditions() []Condition {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Condition, len(d.conds))
	copy(out, d.conds)
	return out
}

// FirstError returns the first error-severity condition, if any.
func (d *Diagnostics) FirstError() (Condition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conds {
		if c.Severity == SeverityError {
			return c, true
		}
	}
	return Condition{}, false
}

// FirstWithCode returns the first condition carrying code, if any.
func (d *Diagnostics) FirstWithCode(code Code) (Condition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conds {
		if c.Code == code {
			return c, true
		}
	}
	return Condition{}, false
}

// Merge appends all of other's conditions to d.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil || other == d {
		return
	}
	for _, c := range other.Conditions() {
		d.add(c)
	}
}

func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conds)
}
