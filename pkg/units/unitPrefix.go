package units

import (
	"regexp"
)

// Prefix is the factor-based counterpart to PrefixedUnit.Prefix's short
// string form: NewUnit parses a free-form unit string (e.g. from a
// dynamic plugin's declared unit, or a collector config's
// `lineprotocoloutput.energy_unit`-style override) into one of these,
// and GetUnitPrefixFactor/GetPrefixPrefixFactor use the float64 value
// directly to scale a measurement between prefixes — "mW" readings
// rescaled to "W" before an Output writes them out, for instance.
type Prefix float64

const (
	InvalidPrefix Prefix = iota
	Base                 = 1
	Yotta                = 1e24
	Zetta                = 1e21
	Exa                  = 1e18
	Peta                 = 1e15
	Tera                 = 1e12
	Giga                 = 1e9
	Mega                 = 1e6
	Kilo                 = 1e3
	Milli                = 1e-3
	Micro                = 1e-6
	Nano                 = 1e-9
	// Binary prefixes: mostly seen on memory/storage sources (RSS,
	// cgroup memory.max, block-device throughput) rather than the
	// decimal prefixes energy/power metrics use.
	Kibi = 1024
	Mebi = 1024 * 1024
	Gibi = 1024 * 1024 * 1024
	Tebi = 1024 * 1024 * 1024 * 1024
	Pebi = 1024 * 1024 * 1024 * 1024 * 1024
	Exbi = 1024 * 1024 * 1024 * 1024 * 1024 * 1024
	Zebi = 1024 * 1024 * 1024 * 1024 * 1024 * 1024 * 1024
	Yobi = 1024 * 1024 * 1024 * 1024 * 1024 * 1024 * 1024 * 1024
)

// PrefixUnitSplitRegexStr pulls a leading SI/IEC prefix letter (plus an
// optional binary "i") off the front of a unit string, leaving the base
// measure in the second capture group.
const PrefixUnitSplitRegexStr = `^([kKmMgGtTpPeEzZyY]?[i]?)(.*)`

var prefixUnitSplitRegex = regexp.MustCompile(PrefixUnitSplitRegexStr)

// PrefixData names one Prefix (long and short form) and the regex
// NewPrefix matches against a unit string's prefix substring to
// recognize it.
type PrefixData struct {
	Long  string
	Short string
	Regex string
}

var InvalidPrefixLong string = "Invalid"
var InvalidPrefixShort string = "inval"

// PrefixDataMap is the only source of truth NewPrefix/Prefix.String/
// Prefix.Prefix consult; adding a prefix this agent needs to recognize
// (say, a plugin reporting centi-percent) means adding one entry here,
// not touching the parsing logic below.
var PrefixDataMap map[Prefix]PrefixData = map[Prefix]PrefixData{
	Base: {
		Long:  "",
		Short: "",
		Regex: "^$",
	},
	Kilo: {
		Long:  "Kilo",
		Short: "K",
		Regex: "^[kK]$",
	},
	Mega: {
		Long:  "Mega",
		Short: "M",
		Regex: "^[M]$",
	},
	Giga: {
		Long:  "Giga",
		Short: "G",
		Regex: "^[gG]$",
	},
	Tera: {
		Long:  "Tera",
		Short: "T",
		Regex: "^[tT]$",
	},
	Peta: {
		Long:  "Peta",
		Short: "P",
		Regex: "^[pP]$",
	},
	Exa: {
		Long:  "Exa",
		Short: "E",
		Regex: "^[eE]$",
	},
	Zetta: {
		Long:  "Zetta",
		Short: "Z",
		Regex: "^[zZ]$",
	},
	Yotta: {
		Long:  "Yotta",
		Short: "Y",
		Regex: "^[yY]$",
	},
	Milli: {
		Long:  "Milli",
		Short: "m",
		Regex: "^[m]$",
	},
	Micro: {
		Long:  "Micro",
		Short: "u",
		Regex: "^[u]$",
	},
	Nano: {
		Long:  "Nano",
		Short: "n",
		Regex: "^[n]$",
	},
	Kibi: {
		Long:  "Kibi",
		Short: "Ki",
		Regex: "^[kK][i]$",
	},
	Mebi: {
		Long:  "Mebi",
		Short: "Mi",
		Regex: "^[M][i]$",
	},
	Gibi: {
		Long:  "Gibi",
		Short: "Gi",
		Regex: "^[gG][i]$",
	},
	Tebi: {
		Long:  "Tebi",
		Short: "Ti",
		Regex: "^[tT][i]$",
	},
	Pebi: {
		Long:  "Pebi",
		Short: "Pi",
		Regex: "^[pP][i]$",
	},
	Exbi: {
		Long:  "Exbi",
		Short: "Ei",
		Regex: "^[eE][i]$",
	},
	Zebi: {
		Long:  "Zebi",
		Short: "Zi",
		Regex: "^[zZ][i]$",
	},
	Yobi: {
		Long:  "Yobi",
		Short: "Yi",
		Regex: "^[yY][i]$",
	},
}

// String returns the long form, e.g. 'Kilo' or 'Mega' — used when a
// unit needs to render human-readable, not in the short PrefixedUnit
// wire form.
func (p *Prefix) String() string {
	if data, ok := PrefixDataMap[*p]; ok {
		return data.Long
	}
	return InvalidMeasureLong
}

// Prefix returns the short form ('K', 'M', 'G', ...) this package
// otherwise carries as PrefixedUnit.Prefix. Prefer this over String for
// anything that ends up on the wire or in an Output.
func (p *Prefix) Prefix() string {
	if data, ok := PrefixDataMap[*p]; ok {
		return data.Short
	}
	return InvalidMeasureShort
}

// NewPrefix resolves a prefix substring ('k', 'K', 'M', 'Ki', ...) —
// typically the first capture group of PrefixUnitSplitRegexStr — to
// its factor. An unrecognized substring yields InvalidPrefix rather
// than an error: NewUnit treats that as "no prefix on this unit" and
// keeps going, matching how the rest of this package tolerates
// malformed plugin-declared unit strings.
func NewPrefix(prefix string) Prefix {
	for p, data := range PrefixDataMap {
		regex := regexp.MustCompile(data.Regex)
		match := regex.FindStringSubmatch(prefix)
		if match != nil {
			return p
		}
	}
	return InvalidPrefix
}
