package apollo

import (
	"encoding/hex"
	"sort"

	"github.com/blinklabs-io/gouroboros/ledger/common"
)

// SortInputs sorts UTxOs by transaction ID and index for deterministic ordering.
func SortInputs(inputs []common.Utxo) []common.Utxo {
	sorted := make([]common.Utxo, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		iId := hex.EncodeToString(sorted[i].Id.Id().Bytes())
		jId := hex.EncodeToString(sorted[j].Id.Id().Bytes())
		if iId != jId {
			return iId < jId
		}
		return sorted[i].Id.Index() < sorted[j].Id.Index()
	})
	return sorted
}
