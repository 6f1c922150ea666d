// findkey prints a key that hashes to the given slot, for driving
// migrations by hand.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bruceqiwang/incubator-kvrocks/internal/cluster/hash"
)

func main() {
	slot := flag.Uint("slot", 0, "target slot (0-16383)")
	max := flag.Int("max", 1000000, "number of candidate keys to try")
	flag.Parse()

	if *slot >= hash.SlotCount {
		fmt.Fprintln(os.Stderr, "slot out of range")
		os.Exit(1)
	}
	for i := 0; i < *max; i++ {
		key := fmt.Sprintf("key-%d", i)
		if hash.KeySlot(key) == uint16(*slot) {
			fmt.Println(key)
			return
		}
	}
	fmt.Fprintln(os.Stderr, "not found")
	os.Exit(1)
}
