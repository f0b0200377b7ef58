package reconcile

import "fmt"

// OutcomeKind classifies a validation verdict.
type OutcomeKind int

const (
	Accepted OutcomeKind = iota
	RejectedMissingColumns
	RejectedExtraColumns
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case RejectedMissingColumns:
		return "missing_columns"
	case RejectedExtraColumns:
		return "extra_columns"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the verdict for one file. Keys is set for rejections only.
type Outcome struct {
	Kind OutcomeKind
	Keys KeySet
}

// Accepted reports whether the file may be loaded.
func (o Outcome) Accepted() bool { return o.Kind == Accepted }

func (o Outcome) String() string {
	switch o.Kind {
	case RejectedMissingColumns:
		return "missing required columns: " + o.Keys.String()
	case RejectedExtraColumns:
		return "unexpected extra columns: " + o.Keys.String()
	default:
		return o.Kind.String()
	}
}

// Validate decides whether a file with the given missing and extra keys may
// be loaded.
//
// Missing columns are checked first and always reject, regardless of
// allowExtraColumns. Extra columns reject only when allowExtraColumns is false.
func Validate(missing, extra KeySet, allowExtraColumns bool) Outcome {
	if len(missing) > 0 {
		return Outcome{Kind: RejectedMissingColumns, Keys: missing}
	}
	if len(extra) > 0 && !allowExtraColumns {
		return Outcome{Kind: RejectedExtraColumns, Keys: extra}
	}
	return Outcome{Kind: Accepted}
}
