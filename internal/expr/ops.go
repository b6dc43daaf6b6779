package expr

// Op identifies an n-ary call operator.
type Op uint8

// Supported call operators.
const (
	OpAdd Op = iota // n-ary sum
	OpSub           // binary difference
	OpMul           // n-ary product
	OpDiv           // binary quotient
	OpPow           // binary power
	OpMin           // n-ary minimum
	OpMax           // n-ary maximum
	OpIfelse        // ternary conditional: ifelse(cond, then, else)
)

// String returns the operator's surface name.
func (op Op) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpPow:
		return "^"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpIfelse:
		return "ifelse"
	default:
		return "unknown"
	}
}

// Arity returns the required argument count, or -1 for variadic operators.
func (op Op) Arity() int {
	switch op {
	case OpSub, OpDiv, OpPow:
		return 2
	case OpIfelse:
		return 3
	default:
		return -1
	}
}

// UnaryOp identifies a univariate call operator.
type UnaryOp uint8

// Supported unary operators.
const (
	UnaryNeg UnaryOp = iota
	UnaryAbs
	UnarySqrt
	UnaryExp
	UnaryLog
	UnarySin
	UnaryCos
	UnaryTan
	UnaryTanh
	UnaryAsin
	UnaryAcos
	UnaryAtan
)

// String returns the operator's surface name.
func (op UnaryOp) String() string {
	switch op {
	case UnaryNeg:
		return "-"
	case UnaryAbs:
		return "abs"
	case UnarySqrt:
		return "sqrt"
	case UnaryExp:
		return "exp"
	case UnaryLog:
		return "log"
	case UnarySin:
		return "sin"
	case UnaryCos:
		return "cos"
	case UnaryTan:
		return "tan"
	case UnaryTanh:
		return "tanh"
	case UnaryAsin:
		return "asin"
	case UnaryAcos:
		return "acos"
	case UnaryAtan:
		return "atan"
	default:
		return "unknown"
	}
}

// CmpOp identifies a comparison operator. Comparisons evaluate to 0 or 1 and
// carry no derivative information.
type CmpOp uint8

// Supported comparison operators.
const (
	CmpLT CmpOp = iota
	CmpLE
	CmpGT
	CmpGE
	CmpEQ
	CmpNE
)

// String returns the operator's surface name.
func (op CmpOp) String() string {
	switch op {
	case CmpLT:
		return "<"
	case CmpLE:
		return "<="
	case CmpGT:
		return ">"
	case CmpGE:
		return ">="
	case CmpEQ:
		return "=="
	case CmpNE:
		return "!="
	default:
		return "unknown"
	}
}

// LogicOp identifies a boolean connective over 0/1 operands.
type LogicOp uint8

// Supported logic operators.
const (
	LogicAnd LogicOp = iota
	LogicOr
)

// String returns the operator's surface name.
func (op LogicOp) String() string {
	switch op {
	case LogicAnd:
		return "&&"
	case LogicOr:
		return "||"
	default:
		return "unknown"
	}
}
