package codec

import "strings"

// extensions maps container name suffixes to a format and filter.
var extensions = []struct {
	suffix string
	format Format
	filter Filter
}{
	{".tar.gz", FormatTar, FilterGzip},
	{".tar.zst", FormatTar, FilterZstd},
	{".tar.lz4", FormatTar, FilterLZ4},
	{".tgz", FormatTar, FilterGzip},
	{".tzst", FormatTar, FilterZstd},
	{".tlz4", FormatTar, FilterLZ4},
	{".tar", FormatTar, FilterNone},
	{".zip", FormatZip, FilterNone},
}

// FormatForPath picks the format and filter for a container name from its
// extension. The boolean is false when the extension is not recognized.
func FormatForPath(name string) (Format, Filter, bool) {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext.suffix) {
			return ext.format, ext.filter, true
		}
	}
	return FormatTar, FilterNone, false
}
