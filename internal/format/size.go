package format

import (
	"strconv"

	"github.com/martinlindhe/unit"
)

// sizeUnits are the single-letter binary prefixes used in compact sizes.
var sizeUnits = [...]byte{'B', 'K', 'M', 'G', 'T'}

// CompactSize renders a size the way df -h style status bars do: the value
// is divided by 1024 while it is at least 1000, then printed with one decimal
// and a unit letter ("1.5G", "980.0K"). Plain byte counts have no decimals
// and no suffix ("512").
func CompactSize(size unit.Datasize) string {
	return string(AppendCompactSize(nil, size))
}

// AppendCompactSize appends the CompactSize rendering of size to dst.
func AppendCompactSize(dst []byte, size unit.Datasize) []byte {
	v := size.Bytes()
	if v < 0 {
		v = 0
	}
	u := 0
	for v >= 1000 && u < len(sizeUnits)-1 {
		v /= 1024
		u++
	}
	if u == 0 {
		return strconv.AppendFloat(dst, v, 'f', 0, 64)
	}
	dst = strconv.AppendFloat(dst, v, 'f', 1, 64)
	return append(dst, sizeUnits[u])
}

// Bytes converts a raw byte count into a unit.Datasize.
func Bytes(n uint64) unit.Datasize {
	return unit.Datasize(n) * unit.Byte
}
