package model

// FilterOp defines the supported filter operators.
type FilterOp string

const (
	OpEq          FilterOp = "=="                 // Equal
	OpNe          FilterOp = "!="                 // Not equal
	OpGt          FilterOp = ">"                  // Greater than
	OpGte         FilterOp = ">="                 // Greater than or equal
	OpLt          FilterOp = "<"                  // Less than
	OpLte         FilterOp = "<="                 // Less than or equal
	OpIn          FilterOp = "in"                 // Value in array
	OpNotIn       FilterOp = "not-in"             // Value not in array
	OpContains    FilterOp = "array-contains"     // Array contains value
	OpContainsAny FilterOp = "array-contains-any" // Array contains any of the values
)

// ValidOps returns all valid filter operators.
func ValidOps() []FilterOp {
	return []FilterOp{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpContainsAny}
}

// IsValid checks if the operator is valid.
func (op FilterOp) IsValid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpContainsAny:
		return true
	}
	return false
}

// IsArrayOp reports whether the operator applies to array fields.
func (op FilterOp) IsArrayOp() bool {
	return op == OpContains || op == OpContainsAny
}

// TakesList reports whether the operator value is a list of candidates.
func (op FilterOp) TakesList() bool {
	return op == OpIn || op == OpNotIn || op == OpContainsAny
}

// Direction is the order direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

func (d Direction) IsValid() bool {
	return d == Asc || d == Desc
}
