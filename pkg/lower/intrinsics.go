package lower

import "github.com/lumen-lang/lumen/pkg/lir"

// intrinsicID resolves a bare call-site name against the shared
// intrinsic catalog in pkg/lir. A user cell with the same name shadows
// the intrinsic; lowerCall checks the cell table first.
func intrinsicID(name string) (uint32, bool) {
	return lir.IntrinsicID(name)
}
