// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

// Confidence constants. Higher means more likely the reference is real.
// The value is monotonic in the strength of the evidence: a directly
// disproven member scores lower than a missing module export, which in
// turn scores lower than every UNCERTAIN outcome. VALID results sit at
// or above 0.80, UNCERTAIN results inside [0.35, 0.65], INVALID results
// at or below 0.20.
const (
	// confValidDirect: element found exactly where the fact points.
	confValidDirect = 0.95

	// confValidInherited: member found on an ancestor class.
	confValidInherited = 0.85

	// confUncertainBase: the receiver's type is unknown to the analyzer.
	confUncertainBase = 0.50

	// confUncertainDegraded: the store was unavailable mid-lookup.
	confUncertainDegraded = 0.45

	// confUncertainModule: the owning module was never ingested.
	confUncertainModule = 0.40

	// confUncertainExternal: the inheritance chain left the graph before
	// the member was found, so absence is unprovable.
	confUncertainExternal = 0.45

	// confUncertainUnmodeled: the scope exists but does not model the
	// referenced element kind (e.g. module-level variables).
	confUncertainUnmodeled = 0.55

	// confNotFound: the reference cannot be resolved to a searchable
	// qualified name at all.
	confNotFound = 0.35

	// confInvalidExport: module is in the graph, symbol is not.
	confInvalidExport = 0.15

	// confInvalidArgs: the element exists but the call arguments are
	// impossible against its signature.
	confInvalidArgs = 0.10

	// confInvalidMember: the class and its whole resolvable ancestry are
	// in the graph and none of them define the member.
	confInvalidMember = 0.05
)
