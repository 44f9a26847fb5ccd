package orchestrator

import (
	"fmt"
)

// exportPrompt instructs the assistant running in a fork to materialize its
// work as a markdown summary at an absolute path. The orchestrator never
// parses the file; it only verifies existence and non-emptiness, so the
// section list is a convention for the parent, not a schema.
func exportPrompt(absPath string) string {
	return fmt.Sprintf(
		"Write a markdown summary of the work done in this conversation to the file %s. "+
			"Create the file with exactly these six sections: "+
			"## Executive Summary, ## Changes Made, ## Results, ## Recommendations, "+
			"## Open Questions, ## Next Steps. "+
			"Be concise and concrete. Write only the file; do not print its contents here.",
		absPath,
	)
}

// mergePrompt instructs the parent conversation to absorb a fork's export.
func mergePrompt(forkName, relPath string) string {
	return fmt.Sprintf(
		"The branched conversation %q has finished and left its summary at %s. "+
			"Read that file and integrate the findings into our ongoing work, "+
			"then continue from where we left off.",
		forkName, relPath,
	)
}
