package evaluator

import "strings"

// Capability flags the evaluator features a solver may request at
// initialization. Values combine as a bit set.
type Capability uint8

// Supported capabilities.
const (
	Value Capability = 1 << iota
	Gradient
	Jacobian
	Hessian
	HessianVectorProduct
	ExpressionIntrospection
)

// Supported is the full capability set of this evaluator.
const Supported = Value | Gradient | Jacobian | Hessian | HessianVectorProduct | ExpressionIntrospection

// Has reports whether every flag of want is present.
func (c Capability) Has(want Capability) bool { return c&want == want }

// String lists the set's members.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	names := []struct {
		flag Capability
		name string
	}{
		{Value, "value"},
		{Gradient, "gradient"},
		{Jacobian, "jacobian"},
		{Hessian, "hessian"},
		{HessianVectorProduct, "hessian-vector product"},
		{ExpressionIntrospection, "expression introspection"},
	}
	var parts []string
	for _, n := range names {
		if c.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if c&^Supported != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}
