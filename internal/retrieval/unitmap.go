package retrieval

import "strings"

// unitMap maps user-facing unit spellings (including German names and common
// abbreviations) to canonical catalog units. Piece-like units map to "unit".
var unitMap = map[string]string{
	// canonical catalog units
	"kg":            "kg",
	"kwh":           "kWh",
	"mj":            "MJ",
	"m2":            "m2",
	"m3":            "m3",
	"l":             "l",
	"km":            "km",
	"ha":            "ha",
	"hour":          "hour",
	"m":             "m",
	"unit":          "unit",
	"person*km":     "person*km",
	"metric ton*km": "metric ton*km",
	"km*year":       "km*year",
	"m2*year":       "m2*year",
	"m*year":        "m*year",
	"kg*day":        "kg*day",
	"guest night":   "guest night",
	// German names and abbreviations
	"stück":             "unit",
	"stueck":            "unit",
	"stk":               "unit",
	"stk.":              "unit",
	"pcs":               "unit",
	"pc":                "unit",
	"ea":                "unit",
	"piece":             "unit",
	"pieces":            "unit",
	"liter":             "l",
	"kilogramm":         "kg",
	"kilowattstunde":    "kWh",
	"meter":             "m",
	"quadratmeter":      "m2",
	"kubikmeter":        "m3",
	"hektar":            "ha",
	"stunde":            "hour",
	"stunden":           "hour",
	"personenkilometer": "person*km",
	"tonnenkilometer":   "metric ton*km",
	"tkm":               "metric ton*km",
	"pkm":               "person*km",
	"sqm":               "m2",
	"cbm":               "m3",
}

// MapUnit maps a user-provided unit to its canonical catalog unit. The second
// return value is false when no mapping exists.
func MapUnit(raw string) (string, bool) {
	mapped, ok := unitMap[strings.ToLower(strings.TrimSpace(raw))]
	return mapped, ok
}
