package dataid

// matchDimensions are the dimensions compared between a calibration dataset
// and a visit. Other dimensions never disqualify a dataset.
var matchDimensions = [...]Dimension{Instrument, Detector, PhysicalFilter}

// Matches reports whether a dataset keyed by dataset can serve a visit
// described by visit. Each of instrument, detector and physical_filter that
// the dataset carries must equal the visit's value; dimensions the dataset
// does not carry match anything. A dimension the dataset carries but the
// visit lacks does not match.
func Matches(dataset, visit DataID) bool {
	for _, dim := range matchDimensions {
		want, ok := dataset.Get(dim)
		if !ok {
			continue
		}
		got, ok := visit.Get(dim)
		if !ok || got != want {
			return false
		}
	}
	return true
}
