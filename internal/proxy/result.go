package proxy

// Aggregate builds the CheckerResult handed to persistence. The protocol list
// is never nil so it always serializes as a JSON array.
func Aggregate(working, ssl bool, protocols []string) CheckerResult {
	list := make([]string, 0, len(protocols))
	seen := make(map[string]bool, len(protocols))
	for _, p := range protocols {
		if seen[p] {
			continue
		}
		seen[p] = true
		list = append(list, p)
	}
	return CheckerResult{
		IsWorking:        working,
		IsSSL:            ssl,
		WorkingProtocols: list,
	}
}

// notWorking is the definite negative result
func notWorking() CheckerResult {
	return Aggregate(false, false, nil)
}
