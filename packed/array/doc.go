/*
Package array implements a dense packed array of fixed-width records.

Records are opaque byte strings of equal width. An array carries no summary
index; it is the stream of choice for payloads which are accessed by
position only, such as child node identifiers in branch nodes.
*/
package array

import (
	"fmt"
)

func assertThat(that bool, msg string, msgargs ...interface{}) {
	if !that {
		msg = fmt.Sprintf("array: "+msg, msgargs...)
		panic(msg)
	}
}
