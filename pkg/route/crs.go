package route

import "strings"

// WGS84 is the CRS of longitude and latitude degrees events default to.
const WGS84 = "EPSG:4326"

// normalizeCRS folds the spellings of WGS 84 geographic coordinates into
// WGS84 and upper cases anything else.
func normalizeCRS(crs string) string {
	s := strings.ToUpper(strings.TrimSpace(crs))
	switch s {
	case "EPSG:4326", "WGS84", "WGS 84", "CRS84", "OGC:CRS84",
		"URN:OGC:DEF:CRS:EPSG::4326", "URN:OGC:DEF:CRS:OGC:1.3:CRS84":
		return WGS84
	}
	if strings.HasPrefix(s, "GEOGCS[") && (strings.Contains(s, "WGS_1984") || strings.Contains(s, "\"WGS 84\"")) {
		return WGS84
	}
	return s
}

// SameCRS reports whether a and b name the same coordinate reference system.
// An empty CRS is unknown and matches anything.
func SameCRS(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return true
	}
	return normalizeCRS(a) == normalizeCRS(b)
}
