package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/jessevdk/go-flags"
)

const (
	K  = uint64(1000)
	M  = 1000 * K
	G  = 1000 * M
	Ki = uint64(1024)
	Mi = 1024 * Ki
	Gi = 1024 * Mi
)

// suffixes are matched case-insensitively; a trailing "b" is optional.
var sizeUnits = map[string]uint64{
	"":   1,
	"b":  1,
	"k":  K,
	"m":  M,
	"g":  G,
	"ki": Ki,
	"mi": Mi,
	"gi": Gi,
}

// MemorySize is a byte count that can be written as "102400", "100Ki" or
// "1.5M" in config files and on the command line.
type MemorySize uint64

func (m MemorySize) MarshalText() ([]byte, error) {
	for _, u := range []struct {
		size uint64
		name string
	}{{Gi, "Gi"}, {G, "G"}, {Mi, "Mi"}, {M, "M"}, {Ki, "Ki"}, {K, "K"}} {
		if m > 0 && uint64(m)%u.size == 0 {
			return []byte(fmt.Sprintf("%d%s", uint64(m)/u.size, u.name)), nil
		}
	}
	return []byte(strconv.FormatUint(uint64(m), 10)), nil
}

func (m *MemorySize) UnmarshalText(text []byte) error {
	txt := strings.TrimSpace(string(text))
	split := strings.IndexFunc(txt, unicode.IsLetter)
	if split < 0 {
		split = len(txt)
	}
	number, unit := txt[:split], strings.ToLower(txt[split:])
	if len(unit) > 1 && strings.HasSuffix(unit, "b") {
		unit = strings.TrimSuffix(unit, "b")
	}

	scalar, ok := sizeUnits[unit]
	if !ok || number == "" || strings.HasPrefix(number, "-") {
		return fmt.Errorf("invalid size: %s", txt)
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(number, "_", ""), 64)
	if err != nil {
		return fmt.Errorf("invalid size: %s", txt)
	}
	*m = MemorySize(n * float64(scalar))
	return nil
}

var _ flags.Unmarshaler = (*MemorySize)(nil)

func (m *MemorySize) UnmarshalFlag(value string) error {
	return m.UnmarshalText([]byte(value))
}
